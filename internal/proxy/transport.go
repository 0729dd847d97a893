package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Transport 是可注入的 http.RoundTripper：GET 且 URL 命中 Matcher 的请求交给 Orchestrator，
// 其余请求原样交给 base，不改请求头也不记录日志。
type Transport struct {
	base         http.RoundTripper
	orchestrator *Orchestrator
	matcher      Matcher
}

// NewTransport 构造拦截器。base 为 nil 时使用 http.DefaultTransport。
func NewTransport(base http.RoundTripper, orchestrator *Orchestrator, matcher Matcher) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, orchestrator: orchestrator, matcher: matcher}
}

// Install 把拦截器挂到 client 上；这是唯一的接线步骤，不修改任何全局状态。
func Install(client *http.Client, t *Transport) *http.Client {
	client.Transport = t
	return client
}

// Client 返回一个已安装拦截器的新 client。
func (t *Transport) Client() *http.Client {
	return Install(&http.Client{}, t)
}

// Intercepts 报告该请求是否会进入缓存流程。
func (t *Transport) Intercepts(req *http.Request) bool {
	return req.Method == http.MethodGet && t.orchestrator != nil && t.matcher.Match(req.URL.String())
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Intercepts(req) {
		return t.base.RoundTrip(req)
	}
	return t.orchestrator.RoundTrip(req)
}

// Fetch 接受裸 URL（string / *url.URL）或请求描述（*http.Request），
// 解析出实际 URL 后走 RoundTrip。header 会合并进请求头。
func (t *Transport) Fetch(ctx context.Context, target any, header http.Header) (*http.Response, error) {
	req, err := resolveRequest(ctx, target)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return t.RoundTrip(req)
}

// Wait 等待所有后台写入完成。
func (t *Transport) Wait(ctx context.Context) error {
	if t.orchestrator == nil {
		return nil
	}
	return t.orchestrator.Wait(ctx)
}

func resolveRequest(ctx context.Context, target any) (*http.Request, error) {
	switch v := target.(type) {
	case string:
		return http.NewRequestWithContext(ctx, http.MethodGet, v, nil)
	case *url.URL:
		if v == nil {
			return nil, fmt.Errorf("proxy: nil fetch target")
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, v.String(), nil)
	case *http.Request:
		if v == nil {
			return nil, fmt.Errorf("proxy: nil fetch target")
		}
		return v.Clone(ctx), nil
	default:
		return nil, fmt.Errorf("proxy: unsupported fetch target %T", target)
	}
}
