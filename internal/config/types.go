package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储后端取值。
const (
	StoreBackendLevelDB = "leveldb"
	StoreBackendRedis   = "redis"
)

// DefaultMatchPatterns 为默认拦截的 URL 子串：Unity 资源包标记与通用 assets 目录。
var DefaultMatchPatterns = []string{"unityweb", "assets"}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	Origin          string   `mapstructure:"Origin"`
	MatchPatterns   []string `mapstructure:"MatchPatterns"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	StoreTimeout    Duration `mapstructure:"StoreTimeout"`
}

// RedisConfig 仅在 StoreBackend = "redis" 时生效。
type RedisConfig struct {
	Addr      string `mapstructure:"Addr"`
	Password  string `mapstructure:"Password"`
	DB        int    `mapstructure:"DB"`
	KeyPrefix string `mapstructure:"KeyPrefix"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Redis  RedisConfig  `mapstructure:"Redis"`
}

// UsesRedis 表示当前是否选择 redis 存储后端。
func (c *Config) UsesRedis() bool {
	return c != nil && strings.EqualFold(c.Global.StoreBackend, StoreBackendRedis)
}
