package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"
)

// Record 表示一个 URL 对应的完整缓存条目，写入时整体替换。
type Record struct {
	Key             string
	StoredAt        time.Time
	Revalidator     string
	WasRevalidated  bool
	OriginTimestamp string
	Body            []byte
	Size            int64
}

// recordHeader 是记录的元数据部分，单独编码在正文之前，列表时只解这一段。
type recordHeader struct {
	Key             string
	StoredAt        time.Time
	Revalidator     string
	WasRevalidated  bool
	OriginTimestamp string
	Size            int64
}

// ErrMalformedRecord 表示存储中的记录结构不完整或与键不符。
var ErrMalformedRecord = errors.New("malformed cache record")

// encodeRecord 的布局：uvarint(头部长度) | gob(recordHeader) | 原始正文。
func encodeRecord(rec Record) ([]byte, error) {
	var head bytes.Buffer
	if err := gob.NewEncoder(&head).Encode(recordHeader{
		Key:             rec.Key,
		StoredAt:        rec.StoredAt,
		Revalidator:     rec.Revalidator,
		WasRevalidated:  rec.WasRevalidated,
		OriginTimestamp: rec.OriginTimestamp,
		Size:            int64(len(rec.Body)),
	}); err != nil {
		return nil, err
	}

	out := make([]byte, 0, binary.MaxVarintLen64+head.Len()+len(rec.Body))
	out = binary.AppendUvarint(out, uint64(head.Len()))
	out = append(out, head.Bytes()...)
	out = append(out, rec.Body...)
	return out, nil
}

// decodeRecord 解码并校验完整记录，不信任存储中的数据形状。
func decodeRecord(key string, raw []byte) (Record, error) {
	rec, body, err := decodeHeader(key, raw)
	if err != nil {
		return Record{}, err
	}
	if int64(len(body)) != rec.Size {
		return Record{}, fmt.Errorf("%w: size %d, body %d", ErrMalformedRecord, rec.Size, len(body))
	}
	rec.Body = append([]byte(nil), body...)
	return rec, nil
}

// decodeMeta 只解元数据，返回的记录 Body 为空，Size 保留存储时的正文长度。
func decodeMeta(key string, raw []byte) (Record, error) {
	rec, body, err := decodeHeader(key, raw)
	if err != nil {
		return Record{}, err
	}
	if int64(len(body)) != rec.Size {
		return Record{}, fmt.Errorf("%w: size %d, body %d", ErrMalformedRecord, rec.Size, len(body))
	}
	return rec, nil
}

func decodeHeader(key string, raw []byte) (Record, []byte, error) {
	n, width := binary.Uvarint(raw)
	if width <= 0 || n > uint64(len(raw)-width) {
		return Record{}, nil, fmt.Errorf("%w: bad header length", ErrMalformedRecord)
	}
	headEnd := width + int(n)

	var head recordHeader
	if err := gob.NewDecoder(bytes.NewReader(raw[width:headEnd])).Decode(&head); err != nil {
		return Record{}, nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rec := Record{
		Key:             head.Key,
		StoredAt:        head.StoredAt,
		Revalidator:     head.Revalidator,
		WasRevalidated:  head.WasRevalidated,
		OriginTimestamp: head.OriginTimestamp,
		Size:            head.Size,
	}
	if err := rec.validateMeta(key); err != nil {
		return Record{}, nil, err
	}
	return rec, raw[headEnd:], nil
}

func (r Record) validate(key string) error {
	if err := r.validateMeta(key); err != nil {
		return err
	}
	if r.Size != int64(len(r.Body)) {
		return fmt.Errorf("%w: size %d, body %d", ErrMalformedRecord, r.Size, len(r.Body))
	}
	return nil
}

func (r Record) validateMeta(key string) error {
	switch {
	case r.Key == "":
		return fmt.Errorf("%w: empty key", ErrMalformedRecord)
	case key != "" && r.Key != key:
		return fmt.Errorf("%w: key %q stored under %q", ErrMalformedRecord, r.Key, key)
	case r.StoredAt.IsZero():
		return fmt.Errorf("%w: missing stored_at", ErrMalformedRecord)
	case r.Size < 0:
		return fmt.Errorf("%w: negative size %d", ErrMalformedRecord, r.Size)
	}
	return nil
}

// Name 返回 URL 路径的最后一段（不含查询串），供诊断列表展示。
func (r Record) Name() string {
	u, err := url.Parse(r.Key)
	if err != nil || u.Path == "" {
		return r.Key
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return r.Key
	}
	return name
}
