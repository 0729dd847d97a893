package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/logging"
	"github.com/any-hub/assetcache/internal/server"
	"github.com/any-hub/assetcache/internal/version"
)

// Handler 把入站请求转发到配置的源站。上游请求统一走注入的 http.Client，
// 匹配的资源由其 Transport 完成缓存命中与回填，Handler 本身不感知缓存。
type Handler struct {
	client *http.Client
	origin *url.URL
	logger *logrus.Logger
}

// NewHandler 校验 origin 并构造 Handler。client 通常已通过 Install 挂载拦截器。
func NewHandler(client *http.Client, origin string, logger *logrus.Logger) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("proxy: http client is required")
	}
	base, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("proxy: origin must include scheme and host")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{client: client, origin: base, logger: logger}, nil
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := strings.Clone(c.Method())

	upstream := h.resolveUpstreamURL(c)
	req, err := h.buildUpstreamRequest(c, upstream)
	if err != nil {
		h.logResult(method, upstream.String(), requestID, 0, "", started, -1, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(method, upstream.String(), requestID, 0, "", started, -1, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	copyResponseHeaders(c, resp.Header)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)
	status := resp.Header.Get(HeaderCacheStatus)

	if method == http.MethodHead {
		resp.Body.Close()
		h.logResult(method, upstream.String(), requestID, resp.StatusCode, status, started, -1, nil)
		return nil
	}

	// 正文在 Handle 返回后由 fasthttp 边读边写给客户端，写完或连接中断时关闭 resp.Body。
	// 响应头立即发出，客户端无需等待正文即可拿到 Content-Length。
	c.Response().ImmediateHeaderFlush = true
	c.Response().SetBodyStream(&streamedBody{
		ReadCloser: resp.Body,
		expected:   resp.ContentLength,
		done: func(written int64, err error) {
			h.logResult(method, upstream.String(), requestID, resp.StatusCode, status, started, written, err)
		},
	}, int(resp.ContentLength))
	return nil
}

// streamedBody 统计实际写出的字节数，关闭时回调一次 done。
type streamedBody struct {
	io.ReadCloser
	expected int64
	done     func(written int64, err error)

	written int64
	readErr error
	once    sync.Once
}

func (b *streamedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.written += int64(n)
	if err != nil && err != io.EOF && b.readErr == nil {
		b.readErr = err
	}
	return n, err
}

func (b *streamedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		result := b.readErr
		if result == nil && b.expected >= 0 && b.written < b.expected {
			result = fmt.Errorf("stream closed after %d of %d bytes", b.written, b.expected)
		}
		b.done(b.written, result)
	})
	return err
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	body := bytesReader(append([]byte(nil), c.Body()...))

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Content-Length")
	req.Header.Del("Host")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return req, nil
}

// resolveUpstreamURL 拼接 origin 与请求路径/查询串；origin 自带的路径前缀会保留。
func (h *Handler) resolveUpstreamURL(c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := path.Clean("/" + string(uri.Path()))

	target := *h.origin
	target.Path = strings.TrimRight(h.origin.Path, "/") + clean
	target.RawPath = ""
	target.RawQuery = string(uri.QueryString())
	return &target
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	upstream string,
	requestID string,
	status int,
	cacheStatus string,
	started time.Time,
	written int64,
	err error,
) {
	outcome := cacheStatus
	if outcome == "" {
		outcome = OutcomePassthrough
	}
	fields := logging.RequestFields(upstream, method, outcome, cacheStatus == OutcomeHit)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if written >= 0 {
		fields["bytes_sent"] = written
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
