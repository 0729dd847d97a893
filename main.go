package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/config"
	"github.com/any-hub/assetcache/internal/logging"
	"github.com/any-hub/assetcache/internal/proxy"
	"github.com/any-hub/assetcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	listCache   bool
	listFormat  string
	resetCache  bool
	assumeYes   bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
	stdIn  io.Reader = os.Stdin
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.Origin
		fields["match_patterns"] = proxy.NewMatcher(cfg.Global.MatchPatterns...).Patterns()
		fields["store_backend"] = cfg.Global.StoreBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.listCache:
		return listCache(ctx, cfg, logger, opts.listFormat)
	case opts.resetCache:
		return resetCache(ctx, cfg, logger, opts.assumeYes)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["match_patterns"] = proxy.NewMatcher(cfg.Global.MatchPatterns...).Patterns()
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("assetcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		listCache  bool
		format     string
		resetCache bool
		assumeYes  bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ASSET_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&listCache, "list-cache", false, "列出已缓存的资源后退出")
	fs.StringVar(&format, "format", "json", "--list-cache 的输出格式：json 或 yaml")
	fs.BoolVar(&resetCache, "reset-cache", false, "清空资源缓存后退出")
	fs.BoolVar(&assumeYes, "yes", false, "跳过 --reset-cache 的确认提示")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format != "json" && format != "yaml" {
		return cliOptions{}, fmt.Errorf("不支持的输出格式: %s", format)
	}
	if listCache && resetCache {
		return cliOptions{}, fmt.Errorf("--list-cache 与 --reset-cache 不能同时使用")
	}

	path := os.Getenv("ASSET_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		listCache:   listCache,
		listFormat:  format,
		resetCache:  resetCache,
		assumeYes:   assumeYes,
	}, nil
}

func listenFields(port int) logrus.Fields {
	return logrus.Fields{
		"action": "listen",
		"port":   port,
	}
}
