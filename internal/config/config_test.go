package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 45s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.StoreTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("整数秒应解析为 Duration，得到 %s", cfg.Global.StoreTimeout.DurationValue())
	}
	if cfg.Global.StoreBackend != StoreBackendLevelDB {
		t.Fatalf("默认后端应为 leveldb，得到 %s", cfg.Global.StoreBackend)
	}
	if len(cfg.Global.MatchPatterns) != 2 || cfg.Global.MatchPatterns[0] != "unityweb" {
		t.Fatalf("MatchPatterns 应使用默认值，得到 %v", cfg.Global.MatchPatterns)
	}
	if cfg.Global.StoragePath == "" || cfg.Global.StoragePath == "./storage" {
		t.Fatalf("StoragePath 应被转换为绝对路径，得到 %s", cfg.Global.StoragePath)
	}
}

func TestLoadRedisBackend(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "redis.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !cfg.UsesRedis() {
		t.Fatalf("应识别 redis 后端")
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("Redis 段解析错误: %+v", cfg.Redis)
	}
	if cfg.Redis.KeyPrefix != "assetcache" {
		t.Fatalf("KeyPrefix 应填充默认值，得到 %q", cfg.Redis.KeyPrefix)
	}
	if got := cfg.Global.MatchPatterns; len(got) != 2 || got[1] != "Build/" {
		t.Fatalf("自定义 MatchPatterns 未生效: %v", got)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateStoreBackend(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		redisAddr string
		shouldErr bool
	}{
		{"leveldb ok", "leveldb", "", false},
		{"redis ok", "redis", "127.0.0.1:6379", false},
		{"redis missing addr", "redis", "", true},
		{"unsupported backend", "indexeddb", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StoreBackend = tc.backend
			cfg.Redis.Addr = tc.redisAddr
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateRequiresMatchPatterns(t *testing.T) {
	cfg := validConfig()
	cfg.Global.MatchPatterns = nil

	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.MatchPatterns" {
		t.Fatalf("应返回 MatchPatterns 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsNonHTTPOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Origin = "ftp://assets.local"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http/https 源站应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			Origin:          "https://mmo-open-world.example",
			MatchPatterns:   []string{"unityweb", "assets"},
			LogLevel:        "info",
			StoragePath:     "./data",
			StoreBackend:    StoreBackendLevelDB,
			UpstreamTimeout: Duration(time.Second),
			StoreTimeout:    Duration(time.Second),
		},
	}
}
