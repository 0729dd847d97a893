package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	levelSchemaKey  = []byte("meta/schema")
	levelFilePrefix = []byte(Namespace + "/")
)

// levelDB 以 goleveldb 为后端：只读事务使用快照，写事务使用 OpenTransaction。
type levelDB struct {
	db *leveldb.DB
}

// levelReader 抽象快照与写事务共有的读取能力。
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

func openLevelDB(ctx context.Context, path string) (DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(lvstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, unavailable(err)
	}

	if err := ensureLevelSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &levelDB{db: db}, nil
}

func ensureLevelSchema(db *leveldb.DB) error {
	raw, err := db.Get(levelSchemaKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		if err := db.Put(levelSchemaKey, []byte(fmt.Sprint(SchemaVersion)), &opt.WriteOptions{Sync: true}); err != nil {
			return unavailable(err)
		}
		return nil
	case err != nil:
		return unavailable(err)
	default:
		return checkSchema(raw)
	}
}

func (l *levelDB) Version() int {
	return SchemaVersion
}

func (l *levelDB) View(ctx context.Context, fn func(ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return txFailed(err)
	}
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return txFailed(err)
	}
	defer snap.Release()

	return txFailed(fn(levelReadTx{r: snap}))
}

func (l *levelDB) Update(ctx context.Context, fn func(WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return txFailed(err)
	}
	tr, err := l.db.OpenTransaction()
	if err != nil {
		return txFailed(err)
	}

	if err := fn(&levelWriteTx{levelReadTx: levelReadTx{r: tr}, tr: tr}); err != nil {
		tr.Discard()
		return txFailed(err)
	}
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return txFailed(err)
	}
	return nil
}

func (l *levelDB) Close() error {
	return l.db.Close()
}

type levelReadTx struct {
	r levelReader
}

func (t levelReadTx) Get(key string) ([]byte, error) {
	value, err := t.r.Get(levelKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (t levelReadTx) ForEach(fn func(key string, value []byte) error) error {
	it := t.r.NewIterator(util.BytesPrefix(levelFilePrefix), nil)
	defer it.Release()

	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), levelFilePrefix))
		// 迭代器会复用底层缓冲，交给调用方前需要复制。
		value := append([]byte(nil), it.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return it.Error()
}

type levelWriteTx struct {
	levelReadTx
	tr *leveldb.Transaction
}

func (t *levelWriteTx) Put(key string, value []byte) error {
	return t.tr.Put(levelKey(key), value, nil)
}

func (t *levelWriteTx) Clear() error {
	it := t.tr.NewIterator(util.BytesPrefix(levelFilePrefix), nil)
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	for _, key := range keys {
		if err := t.tr.Delete(key, nil); err != nil {
			return err
		}
	}
	return nil
}

func levelKey(key string) []byte {
	out := make([]byte, 0, len(levelFilePrefix)+len(key))
	out = append(out, levelFilePrefix...)
	return append(out, key...)
}
