package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/cache"
	"github.com/any-hub/assetcache/internal/logging"
	"github.com/any-hub/assetcache/internal/relay"
)

// HeaderCacheStatus 标记经由缓存层处理的响应：hit 或 fill。
const HeaderCacheStatus = "X-Asset-Cache"

// 拦截请求的处理结果。
const (
	OutcomeHit         = "hit"
	OutcomeFill        = "fill"
	OutcomePassthrough = "passthrough"
	OutcomeError       = "error"
)

// RecordRepository 是 Orchestrator 依赖的最小仓库能力，*cache.Repository 即满足。
type RecordRepository interface {
	Get(ctx context.Context, url string) (cache.Record, bool)
	// Put 返回写入是否已提交，失败由仓库自行记录。
	Put(ctx context.Context, rec cache.Record) bool
	Enabled() bool
}

// Observer 接收请求结果与写入量，通常由 metrics 实现。
type Observer interface {
	Outcome(outcome string)
	Stored(n int)
}

// OrchestratorOptions 控制日志、指标、后台写入超时与时钟。
type OrchestratorOptions struct {
	Logger       *logrus.Logger
	Observer     Observer
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator 负责单个资源请求的 “查缓存 → 条件回源 → 命中/回填” 流程。
// 每次调用最多发出一次网络请求，不做重试。
type Orchestrator struct {
	next         http.RoundTripper
	repo         RecordRepository
	logger       *logrus.Logger
	observer     Observer
	storeTimeout time.Duration
	now          func() time.Time

	pending sync.WaitGroup
}

// NewOrchestrator 以 next 作为真实网络入口构造 Orchestrator。
func NewOrchestrator(next http.RoundTripper, repo RecordRepository, opts OrchestratorOptions) *Orchestrator {
	if next == nil {
		next = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		next:         next,
		repo:         repo,
		logger:       logger,
		observer:     opts.Observer,
		storeTimeout: timeout,
		now:          now,
	}
}

// RoundTrip 执行一次拦截请求。调用方的请求不会被修改。
func (o *Orchestrator) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	url := req.URL.String()

	cached, hasRecord := o.repo.Get(ctx, url)

	outReq := req.Clone(ctx)
	if hasRecord && cached.Revalidator != "" {
		outReq.Header.Set("If-None-Match", cached.Revalidator)
	}

	resp, err := o.next.RoundTrip(outReq)
	if err != nil {
		o.observe(OutcomeError)
		o.logger.WithError(err).
			WithFields(logging.RequestFields(url, req.Method, OutcomeError, hasRecord)).
			Warn("asset_cache_network_failed")
		return nil, err
	}

	switch {
	case hasRecord && isRevalidationHit(resp, cached):
		return o.serveHit(req, resp, cached), nil
	case resp.StatusCode == http.StatusOK:
		return o.fill(req, resp, hasRecord), nil
	default:
		o.observe(OutcomePassthrough)
		o.logger.WithFields(logging.RequestFields(url, req.Method, OutcomePassthrough, hasRecord)).
			WithField("upstream_status", resp.StatusCode).
			Debug("asset_cache_passthrough")
		return resp, nil
	}
}

// isRevalidationHit 判断源站是否确认缓存仍然有效：304，或 200 且 ETag 与存储值完全一致。
func isRevalidationHit(resp *http.Response, cached cache.Record) bool {
	if resp.StatusCode == http.StatusNotModified {
		return true
	}
	if resp.StatusCode != http.StatusOK || cached.Revalidator == "" {
		return false
	}
	return resp.Header.Get("Etag") == cached.Revalidator
}

func (o *Orchestrator) serveHit(req *http.Request, resp *http.Response, cached cache.Record) *http.Response {
	// 304 没有正文；200 命中时正文直接丢弃，以存储内容为准。
	resp.Body.Close()

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(cached.Body)))
	header.Set(HeaderCacheStatus, OutcomeHit)

	o.observe(OutcomeHit)
	o.logger.WithFields(logging.RequestFields(cached.Key, req.Method, OutcomeHit, true)).
		WithField("upstream_status", resp.StatusCode).
		Info("asset_cache_hit")

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
		TLS:           resp.TLS,
	}
}

func (o *Orchestrator) fill(req *http.Request, resp *http.Response, hadRecord bool) *http.Response {
	url := req.URL.String()
	meta := cache.Record{
		Key:             url,
		Revalidator:     resp.Header.Get("Etag"),
		WasRevalidated:  hadRecord,
		OriginTimestamp: originTimestamp(resp.Header),
	}
	fields := logging.RequestFields(url, req.Method, OutcomeFill, hadRecord)

	o.pending.Add(1)
	sink := relay.NewAccumulator(resp.ContentLength, func(body []byte) {
		defer o.pending.Done()
		o.store(meta, body, fields)
	}).OnAbort(func(err error) {
		defer o.pending.Done()
		o.logger.WithError(err).WithFields(fields).Warn("asset_cache_fill_discarded")
	})

	o.observe(OutcomeFill)
	o.logger.WithFields(fields).Info("asset_cache_fill")

	out := *resp
	out.Header = resp.Header.Clone()
	out.Header.Set(HeaderCacheStatus, OutcomeFill)
	out.Body = relay.Tee(resp.Body, sink)
	out.Request = req
	return &out
}

func (o *Orchestrator) store(meta cache.Record, body []byte, fields logrus.Fields) {
	if !o.repo.Enabled() {
		o.logger.WithFields(fields).Debug("asset_cache_store_skipped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.storeTimeout)
	defer cancel()

	meta.StoredAt = o.now().UTC()
	meta.Body = body
	if !o.repo.Put(ctx, meta) {
		o.logger.WithFields(fields).WithField("size_bytes", len(body)).Warn("asset_cache_store_failed")
		return
	}

	if o.observer != nil {
		o.observer.Stored(len(body))
	}
	o.logger.WithFields(fields).WithField("size_bytes", len(body)).Info("asset_cache_stored")
}

// Wait 阻塞直到所有后台写入结束，或 ctx 结束。
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) observe(outcome string) {
	if o.observer != nil {
		o.observer.Outcome(outcome)
	}
}

// originTimestamp 优先使用 Last-Modified，缺失时回退到 Date，仅用于展示。
func originTimestamp(header http.Header) string {
	if last := header.Get("Last-Modified"); last != "" {
		return last
	}
	return header.Get("Date")
}
