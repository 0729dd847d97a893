package relay

import (
	"bytes"
	"fmt"
	"sync"
)

// Accumulator 是收集全部数据块的 Sink，完成后在后台协程中交付完整正文。
type Accumulator struct {
	expected   int64
	onComplete func([]byte)
	onAbort    func(error)

	mu      sync.Mutex
	buf     bytes.Buffer
	settled bool
	done    chan struct{}
}

// NewAccumulator 构造 Accumulator。expected >= 0 时，字节数不一致的结果会被丢弃；
// onComplete 在独立协程中执行，不会阻塞向调用方交付数据。
func NewAccumulator(expected int64, onComplete func([]byte)) *Accumulator {
	return &Accumulator{
		expected:   expected,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
}

// OnAbort 注册丢弃回调，便于调用方记录日志。
func (a *Accumulator) OnAbort(fn func(error)) *Accumulator {
	a.onAbort = fn
	return a
}

func (a *Accumulator) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return
	}
	a.buf.Write(p)
}

func (a *Accumulator) Commit() {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return
	}
	a.settled = true
	body := a.buf.Bytes()
	a.buf = bytes.Buffer{}
	a.mu.Unlock()

	if a.expected >= 0 && int64(len(body)) != a.expected {
		a.discard(fmt.Errorf("relay: received %d bytes, expected %d", len(body), a.expected))
		return
	}

	go func() {
		defer close(a.done)
		if a.onComplete != nil {
			a.onComplete(body)
		}
	}()
}

func (a *Accumulator) Abort(err error) {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return
	}
	a.settled = true
	a.buf = bytes.Buffer{}
	a.mu.Unlock()

	a.discard(err)
}

func (a *Accumulator) discard(err error) {
	if a.onAbort != nil {
		a.onAbort(err)
	}
	close(a.done)
}

// Done 在累积结果已交付（onComplete 返回）或被丢弃后关闭。
func (a *Accumulator) Done() <-chan struct{} {
	return a.done
}
