// Package metrics exposes Prometheus counters for the asset cache: request
// outcomes (hit, fill, passthrough, error), storage failures by operation,
// and the number of bytes written to the store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 持有独立的 Registry，避免与进程内其它默认注册冲突。
type Collector struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	storedBytes prometheus.Counter
	storedFiles prometheus.Counter
}

// New 创建并注册全部指标。
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetcache",
			Name:      "requests_total",
			Help:      "Intercepted asset requests by outcome.",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetcache",
			Name:      "store_errors_total",
			Help:      "Absorbed storage failures by operation.",
		}, []string{"op"}),
		storedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetcache",
			Name:      "stored_bytes_total",
			Help:      "Bytes written to the persistent store.",
		}),
		storedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetcache",
			Name:      "stored_records_total",
			Help:      "Records written to the persistent store.",
		}),
	}
	reg.MustRegister(
		c.outcomes,
		c.storeErrors,
		c.storedBytes,
		c.storedFiles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Outcome 记录一次拦截请求的结果。
func (c *Collector) Outcome(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

// StoreError 记录一次被吸收的存储失败。
func (c *Collector) StoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

// Stored 记录一次成功写入的正文大小。
func (c *Collector) Stored(n int) {
	if c == nil {
		return
	}
	c.storedFiles.Inc()
	c.storedBytes.Add(float64(n))
}

// Registry 返回底层 Registry，便于测试读取。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
