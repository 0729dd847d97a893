package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/assetcache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 0 {
		t.Fatalf("expected no overall client timeout, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("expected response header timeout 45s, got %s", transport.ResponseHeaderTimeout)
	}
}

func TestNewUpstreamTransportDefaultsTimeout(t *testing.T) {
	transport := NewUpstreamTransport(nil)
	if transport.ResponseHeaderTimeout != 30*time.Second {
		t.Fatalf("expected default 30s, got %s", transport.ResponseHeaderTimeout)
	}
	if transport == defaultTransport {
		t.Fatalf("expected a cloned transport")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
