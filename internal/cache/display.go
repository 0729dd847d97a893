package cache

import (
	"net/http"
	"sort"
	"time"
)

// SortForDisplay 按诊断列表的约定排序：已再验证的记录在前，
// 其次按源站时间倒序，无法解析的时间排在最后。
func SortForDisplay(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.WasRevalidated != b.WasRevalidated {
			return a.WasRevalidated
		}
		ta, tb := parseOriginTime(a.OriginTimestamp), parseOriginTime(b.OriginTimestamp)
		return ta.After(tb)
	})
}

func parseOriginTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if parsed, err := http.ParseTime(raw); err == nil {
		return parsed
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	return time.Time{}
}

// ListingItem 是诊断列表中的一行，HTTP 与 CLI 共用同一结构。
type ListingItem struct {
	URL             string    `json:"url" yaml:"url"`
	Name            string    `json:"name" yaml:"name"`
	WasRevalidated  bool      `json:"was_revalidated" yaml:"was_revalidated"`
	OriginTimestamp string    `json:"origin_timestamp" yaml:"origin_timestamp"`
	StoredAt        time.Time `json:"stored_at" yaml:"stored_at"`
	SizeBytes       int64     `json:"size_bytes" yaml:"size_bytes"`
}

// Listing 是诊断列表的完整载荷。
type Listing struct {
	Count int           `json:"count" yaml:"count"`
	Items []ListingItem `json:"items" yaml:"items"`
}

// NewListing 排序 records 并转换为展示载荷；records 会被原地重排。
func NewListing(records []Record) Listing {
	SortForDisplay(records)
	items := make([]ListingItem, 0, len(records))
	for _, rec := range records {
		items = append(items, ListingItem{
			URL:             rec.Key,
			Name:            rec.Name(),
			WasRevalidated:  rec.WasRevalidated,
			OriginTimestamp: rec.OriginTimestamp,
			StoredAt:        rec.StoredAt,
			SizeBytes:       rec.Size,
		})
	}
	return Listing{Count: len(items), Items: items}
}
