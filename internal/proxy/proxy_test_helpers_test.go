package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/cache"
	"github.com/any-hub/assetcache/internal/logging"
	"github.com/any-hub/assetcache/internal/store"
)

var errStreamBroken = errors.New("stream broken")

// chunkBody 每次 Read 返回一个分片，failAt >= 0 时在第 failAt 个分片处报错。
type chunkBody struct {
	mu     sync.Mutex
	chunks [][]byte
	next   int
	failAt int
	closed bool
}

func newChunkBody(failAt int, chunks ...string) *chunkBody {
	body := &chunkBody{failAt: failAt}
	for _, c := range chunks {
		body.chunks = append(body.chunks, []byte(c))
	}
	return body
}

func (b *chunkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if b.failAt >= 0 && b.next == b.failAt {
		return 0, errStreamBroken
	}
	if b.next >= len(b.chunks) {
		return 0, io.EOF
	}
	n := copy(p, b.chunks[b.next])
	b.next++
	return n, nil
}

func (b *chunkBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *chunkBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// scriptedTransport 依次返回预设响应，并记录收到的请求。
type scriptedTransport struct {
	mu        sync.Mutex
	responses []func(*http.Request) (*http.Response, error)
	requests  []*http.Request
}

func (s *scriptedTransport) push(fn func(*http.Request) (*http.Response, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, fn)
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		s.mu.Unlock()
		return nil, errors.New("no scripted response")
	}
	fn := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()
	return fn(req)
}

func (s *scriptedTransport) lastRequest(t *testing.T) *http.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatalf("expected at least one upstream request")
	}
	return s.requests[len(s.requests)-1]
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func respond(status int, header http.Header, body *chunkBody, length int64) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		if header == nil {
			header = http.Header{}
		}
		var rc io.ReadCloser = http.NoBody
		if body != nil {
			rc = body
		}
		if length >= 0 {
			header.Set("Content-Length", strconv.FormatInt(length, 10))
		}
		return &http.Response{
			Status:        strconv.Itoa(status) + " " + http.StatusText(status),
			StatusCode:    status,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        header,
			Body:          rc,
			ContentLength: length,
			Request:       req,
		}, nil
	}
}

// countingObserver 统计各类结果与写入字节数。
type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	stored   int
}

func (o *countingObserver) Outcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) Stored(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored += n
}

func (o *countingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

var fixedNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *cache.Repository {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{})
	if err != nil {
		t.Fatalf("open store error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return cache.NewRepository(db, quietLogger(), nil)
}

func newTestOrchestrator(t *testing.T, next http.RoundTripper) (*Orchestrator, *cache.Repository, *countingObserver) {
	t.Helper()
	repo := newTestRepository(t)
	obs := &countingObserver{}
	orch := NewOrchestrator(next, repo, OrchestratorOptions{
		Logger:       quietLogger(),
		Observer:     obs,
		StoreTimeout: 5 * time.Second,
		Now:          func() time.Time { return fixedNow },
	})
	return orch, repo, obs
}

func waitPending(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("wait for background writes: %v", err)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	return string(data)
}

func quietLogger() *logrus.Logger {
	return logging.Discard()
}
