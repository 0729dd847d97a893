package routes

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/cache"
	"github.com/any-hub/assetcache/internal/server"
)

// CacheStore 是诊断接口所需的仓库能力，*cache.Repository 即满足。
type CacheStore interface {
	ListAll(ctx context.Context) ([]cache.Record, error)
	ClearAll(ctx context.Context) error
}

// CacheRoutesOptions 汇总诊断路由依赖；Metrics 为空时不注册 /-/metrics。
type CacheRoutesOptions struct {
	Store   CacheStore
	Logger  *logrus.Logger
	Metrics http.Handler
}

// RegisterCacheRoutes 暴露 /-/cache 列表与重置接口，以及 /-/metrics。
func RegisterCacheRoutes(app *fiber.App, opts CacheRoutesOptions) {
	if app == nil || opts.Store == nil {
		return
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		records, err := opts.Store.ListAll(c.Context())
		if err != nil {
			// 存储不可用时展示空列表，错误只进日志。
			logger.WithError(err).
				WithFields(logrus.Fields{"action": "cache_list", "request_id": server.RequestID(c)}).
				Warn("cache_list_failed")
			records = nil
		}
		return c.JSON(cache.NewListing(records))
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if c.Query("confirm") != "yes" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "confirmation_required"})
		}
		fields := logrus.Fields{"action": "cache_reset", "request_id": server.RequestID(c)}
		if err := opts.Store.ClearAll(c.Context()); err != nil {
			logger.WithError(err).WithFields(fields).Error("cache_reset_failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_reset_failed"})
		}
		logger.WithFields(fields).Info("cache_reset")
		return c.JSON(fiber.Map{"cleared": true})
	})

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
}
