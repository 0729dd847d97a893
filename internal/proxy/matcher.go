package proxy

import "strings"

// Matcher 以子串方式判断 URL 是否属于需要缓存的资源，不做路径语法解析。
type Matcher struct {
	patterns []string
}

// NewMatcher 构造 Matcher，空白子串会被忽略；没有任何子串时不匹配任何 URL。
func NewMatcher(patterns ...string) Matcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return Matcher{patterns: cleaned}
}

// Match 返回 rawURL 是否包含任一配置子串。
func (m Matcher) Match(rawURL string) bool {
	for _, p := range m.patterns {
		if strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

// Patterns 返回生效的子串列表副本。
func (m Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}
