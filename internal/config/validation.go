package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateUpstream(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if len(g.MatchPatterns) == 0 {
		return newFieldError("Global.MatchPatterns", "至少需要一个匹配子串")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.StoreTimeout.DurationValue() <= 0 {
		return newFieldError("Global.StoreTimeout", "必须大于 0")
	}

	switch strings.ToLower(strings.TrimSpace(g.StoreBackend)) {
	case StoreBackendLevelDB:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return newFieldError(redisField("Addr"), "StoreBackend=redis 时不能为空")
		}
		if c.Redis.DB < 0 {
			return newFieldError(redisField("DB"), "不能为负数")
		}
	default:
		return newFieldError("Global.StoreBackend", "仅支持 leveldb|redis")
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
