// Package relay fans a single response body out to two consumers: the
// caller reading the stream and a sink that captures the same bytes. The
// caller drives the reads, so the first byte is forwarded as soon as the
// network produces it and the sink never buffers ahead of delivery.
package relay

import (
	"errors"
	"io"
	"sync"
)

// ErrAbandoned 表示调用方在读到 EOF 之前关闭了流。
var ErrAbandoned = errors.New("relay: stream abandoned before completion")

// Sink 接收与调用方完全相同、顺序一致的数据块。
// Commit 与 Abort 只会被调用其中之一，且只调用一次。
type Sink interface {
	Write(p []byte)
	Commit()
	Abort(err error)
}

type teeReader struct {
	src  io.ReadCloser
	sink Sink

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Tee 返回一个读取 src 的 ReadCloser，每次读取到的数据同时写入 sink。
// 干净的 io.EOF 触发 sink.Commit；读取错误原样返回给调用方并触发 sink.Abort；
// 提前 Close 会关闭 src 并以 ErrAbandoned 中止 sink。
func Tee(src io.ReadCloser, sink Sink) io.ReadCloser {
	return &teeReader{src: src, sink: sink}
}

func (t *teeReader) Read(p []byte) (int, error) {
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return 0, err
	}
	t.mu.Unlock()

	n, err := t.src.Read(p)
	if n > 0 {
		t.sink.Write(p[:n])
	}
	if err != nil {
		t.finish(err)
	}
	return n, err
}

func (t *teeReader) Close() error {
	t.finish(ErrAbandoned)
	return t.src.Close()
}

func (t *teeReader) finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		if errors.Is(err, ErrAbandoned) {
			t.err = io.ErrClosedPipe
		} else {
			t.err = err
		}
		t.mu.Unlock()

		if errors.Is(err, io.EOF) {
			t.sink.Commit()
			return
		}
		t.sink.Abort(err)
	})
}
