package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/any-hub/assetcache/internal/cache"
	"github.com/any-hub/assetcache/internal/config"
	"github.com/any-hub/assetcache/internal/metrics"
	"github.com/any-hub/assetcache/internal/proxy"
	"github.com/any-hub/assetcache/internal/server"
	"github.com/any-hub/assetcache/internal/server/routes"
	"github.com/any-hub/assetcache/internal/store"
)

const shutdownTimeout = 30 * time.Second

// service 持有进程级共享组件：存储句柄在进程生命周期内只打开一次。
type service struct {
	app       *fiber.App
	transport *proxy.Transport
	repo      *cache.Repository
	db        store.DB
	metrics   *metrics.Collector
}

// newService 按“存储 → 仓库 → 拦截器 → Fiber”顺序组装服务。
// 存储打开失败不会阻止启动，此时所有请求仅透传并记录日志。
func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	collector := metrics.New()
	db := openStore(ctx, cfg, logger)
	repo := cache.NewRepository(db, logger, collector)

	base := server.NewUpstreamTransport(cfg)
	orchestrator := proxy.NewOrchestrator(base, repo, proxy.OrchestratorOptions{
		Logger:       logger,
		Observer:     collector,
		StoreTimeout: cfg.Global.StoreTimeout.DurationValue(),
	})
	transport := proxy.NewTransport(base, orchestrator, proxy.NewMatcher(cfg.Global.MatchPatterns...))

	client := proxy.Install(server.NewUpstreamClient(cfg), transport)
	handler, err := proxy.NewHandler(client, cfg.Global.Origin, logger)
	if err != nil {
		return nil, multierr.Append(err, closeStore(db))
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, multierr.Append(err, closeStore(db))
	}
	routes.RegisterCacheRoutes(app, routes.CacheRoutesOptions{
		Store:   repo,
		Logger:  logger,
		Metrics: collector.Handler(),
	})

	return &service{
		app:       app,
		transport: transport,
		repo:      repo,
		db:        db,
		metrics:   collector,
	}, nil
}

// shutdown 依次停止接收请求、等待后台写入、关闭存储，汇总所有错误。
func (s *service) shutdown(ctx context.Context) error {
	var err error
	err = multierr.Append(err, s.app.ShutdownWithContext(ctx))
	err = multierr.Append(err, s.transport.Wait(ctx))
	err = multierr.Append(err, closeStore(s.db))
	return err
}

// serve 启动 HTTP 服务，直到 ctx 结束后优雅退出。
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(listenFields(port)).Info("Fiber 服务启动")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- svc.app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-listenErr:
		return multierr.Append(err, svc.shutdown(context.Background()))
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，开始优雅关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.shutdown(shutdownCtx); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{"action": "shutdown"}).Error("shutdown_failed")
		return err
	}
	return <-listenErr
}

// openStore 打开配置的存储后端；失败时记录 store_unavailable 并返回 nil。
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) store.DB {
	openCtx, cancel := context.WithTimeout(ctx, cfg.Global.StoreTimeout.DurationValue())
	defer cancel()

	db, err := store.Open(openCtx, storeOptions(cfg))
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":  "store_open",
			"backend": cfg.Global.StoreBackend,
		}).Warn("store_unavailable")
		return nil
	}
	return db
}

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		Backend: cfg.Global.StoreBackend,
		Path:    cfg.Global.StoragePath,
		Redis: store.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	}
}

func closeStore(db store.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
