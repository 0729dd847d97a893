package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingTransport 记录 base 收到的请求指针，用于验证透传身份。
type recordingTransport struct {
	mu   sync.Mutex
	seen []*http.Request
	next http.RoundTripper
}

func (r *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.seen = append(r.seen, req)
	r.mu.Unlock()
	return r.next.RoundTrip(req)
}

// assetOrigin 提供带 ETag 的资源，并在 If-None-Match 匹配时返回 304。
type assetOrigin struct {
	mu          sync.Mutex
	conditional int
	full        int
}

func (o *assetOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.Header.Get("If-None-Match") == `"v1"` {
		o.conditional++
		w.WriteHeader(http.StatusNotModified)
		return
	}
	o.full++
	w.Header().Set("ETag", `"v1"`)
	w.Header().Set("Last-Modified", "Wed, 21 Feb 2024 07:28:00 GMT")
	_, _ = w.Write([]byte("payload:" + r.URL.Path))
}

func (o *assetOrigin) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.full, o.conditional
}

func newTestTransport(t *testing.T, base http.RoundTripper) *Transport {
	t.Helper()
	orch, _, _ := newTestOrchestrator(t, base)
	return NewTransport(base, orch, NewMatcher("unityweb", "assets"))
}

func TestTransportPassthroughIdentity(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			t.Errorf("passthrough request must not be conditional")
		}
		_, _ = w.Write([]byte("plain"))
	}))
	defer origin.Close()

	base := &recordingTransport{next: http.DefaultTransport}
	tr := newTestTransport(t, base)

	req := newGet(t, origin.URL+"/index.html")
	req.Header.Set("X-Probe", "1")
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip error: %v", err)
	}
	if body := readAll(t, resp); body != "plain" {
		t.Fatalf("unexpected body %q", body)
	}
	if resp.Header.Get(HeaderCacheStatus) != "" {
		t.Fatalf("passthrough must not carry cache marker")
	}
	if len(base.seen) != 1 || base.seen[0] != req {
		t.Fatalf("expected the identical request to reach base")
	}
	if len(req.Header) != 1 || req.Header.Get("X-Probe") != "1" {
		t.Fatalf("request headers changed: %v", req.Header)
	}
}

func TestTransportSkipsNonGet(t *testing.T) {
	origin := &assetOrigin{}
	server := httptest.NewServer(origin)
	defer server.Close()

	tr := newTestTransport(t, http.DefaultTransport)
	req, _ := http.NewRequest(http.MethodHead, server.URL+"/Build/game.unityweb", nil)
	if tr.Intercepts(req) {
		t.Fatalf("HEAD must not be intercepted")
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip error: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(HeaderCacheStatus) != "" {
		t.Fatalf("HEAD must not carry cache marker")
	}
}

func TestTransportFetchResolvesTargets(t *testing.T) {
	origin := &assetOrigin{}
	server := httptest.NewServer(origin)
	defer server.Close()

	tr := newTestTransport(t, http.DefaultTransport)
	ctx := context.Background()
	raw := server.URL + "/Build/game.unityweb"

	parsed, _ := url.Parse(raw)
	descriptor, _ := http.NewRequest(http.MethodGet, raw, nil)

	targets := []any{raw, parsed, descriptor}
	wantStatus := []string{OutcomeFill, OutcomeHit, OutcomeHit}
	for i, target := range targets {
		resp, err := tr.Fetch(ctx, target, http.Header{"Accept": {"*/*"}})
		if err != nil {
			t.Fatalf("fetch %T error: %v", target, err)
		}
		if body := readAll(t, resp); body != "payload:/Build/game.unityweb" {
			t.Fatalf("fetch %T unexpected body %q", target, body)
		}
		if got := resp.Header.Get(HeaderCacheStatus); got != wantStatus[i] {
			t.Fatalf("fetch %T expected %s, got %q", target, wantStatus[i], got)
		}
		waitTransport(t, tr)
	}

	full, conditional := origin.counts()
	if full != 1 || conditional != 2 {
		t.Fatalf("expected 1 full and 2 conditional requests, got %d/%d", full, conditional)
	}
	if descriptor.Header.Get("Accept") != "" {
		t.Fatalf("fetch must not mutate the request descriptor")
	}
}

func TestTransportFetchRejectsUnknownTarget(t *testing.T) {
	tr := newTestTransport(t, http.DefaultTransport)
	if _, err := tr.Fetch(context.Background(), 42, nil); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported target error, got %v", err)
	}
}

func TestInstallWiresClient(t *testing.T) {
	origin := &assetOrigin{}
	server := httptest.NewServer(origin)
	defer server.Close()

	orch, repo, _ := newTestOrchestrator(t, http.DefaultTransport)
	tr := NewTransport(http.DefaultTransport, orch, NewMatcher("assets"))
	client := Install(&http.Client{}, tr)
	if client.Transport != tr {
		t.Fatalf("expected transport to be installed")
	}

	target := server.URL + "/static/assets/logo.png"
	for i, want := range []string{OutcomeFill, OutcomeHit} {
		resp, err := client.Get(target)
		if err != nil {
			t.Fatalf("get %d error: %v", i, err)
		}
		readAll(t, resp)
		if got := resp.Header.Get(HeaderCacheStatus); got != want {
			t.Fatalf("get %d expected %s, got %q", i, want, got)
		}
		waitTransport(t, tr)
	}

	if err := repo.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	resp, err := tr.Client().Get(target)
	if err != nil {
		t.Fatalf("get after reset error: %v", err)
	}
	readAll(t, resp)
	if got := resp.Header.Get(HeaderCacheStatus); got != OutcomeFill {
		t.Fatalf("expected fill after reset, got %q", got)
	}
	waitTransport(t, tr)

	if full, _ := origin.counts(); full != 2 {
		t.Fatalf("expected 2 full downloads, got %d", full)
	}
}

func waitTransport(t *testing.T, tr *Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("wait error: %v", err)
	}
}
