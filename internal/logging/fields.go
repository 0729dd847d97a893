package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 url/method/缓存结果字段，供拦截与代理日志复用。
func RequestFields(url, method, outcome string, hadRecord bool) logrus.Fields {
	return logrus.Fields{
		"url":        url,
		"method":     method,
		"outcome":    outcome,
		"had_record": hadRecord,
		"cache_hit":  outcome == "hit",
	}
}
