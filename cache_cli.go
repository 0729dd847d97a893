package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/any-hub/assetcache/internal/cache"
	"github.com/any-hub/assetcache/internal/config"
	"github.com/any-hub/assetcache/internal/store"
)

const resetPrompt = "确定要清空资源缓存吗？[y/N] "

// openRepository 供一次性 CLI 命令使用；存储不可用时直接失败，而不是静默降级。
func openRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*cache.Repository, store.DB, error) {
	openCtx, cancel := context.WithTimeout(ctx, cfg.Global.StoreTimeout.DurationValue())
	defer cancel()

	db, err := store.Open(openCtx, storeOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRepository(db, logger, nil), db, nil
}

// listCache 输出诊断列表，排序规则与 GET /-/cache 一致。
func listCache(ctx context.Context, cfg *config.Config, logger *logrus.Logger, format string) int {
	repo, db, err := openRepository(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "打开存储失败: %v\n", err)
		return 1
	}
	defer db.Close()

	records, err := repo.ListAll(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "读取缓存列表失败: %v\n", err)
		return 1
	}
	listing := cache.NewListing(records)

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(stdOut)
		enc.SetIndent(2)
		err = enc.Encode(listing)
		if closeErr := enc.Close(); err == nil {
			err = closeErr
		}
	default:
		enc := json.NewEncoder(stdOut)
		enc.SetIndent("", "  ")
		err = enc.Encode(listing)
	}
	if err != nil {
		fmt.Fprintf(stdErr, "输出缓存列表失败: %v\n", err)
		return 1
	}
	return 0
}

// resetCache 在确认后清空全部记录；清空失败只记录错误，不会再次提示。
func resetCache(ctx context.Context, cfg *config.Config, logger *logrus.Logger, assumeYes bool) int {
	if !assumeYes && !confirmReset() {
		fmt.Fprintln(stdOut, "已取消")
		return 0
	}

	repo, db, err := openRepository(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "打开存储失败: %v\n", err)
		return 1
	}
	defer db.Close()

	fields := logrus.Fields{"action": "cache_reset", "backend": cfg.Global.StoreBackend}
	if err := repo.ClearAll(ctx); err != nil {
		logger.WithError(err).WithFields(fields).Error("cache_reset_failed")
		fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
		return 1
	}
	logger.WithFields(fields).Info("cache_reset")
	fmt.Fprintln(stdOut, "资源缓存已清空，刷新页面后将重新下载。")
	return 0
}

func confirmReset() bool {
	fmt.Fprint(stdOut, resetPrompt)
	line, err := bufio.NewReader(stdIn).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
