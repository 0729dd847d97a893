package cache

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/assetcache/internal/store"
)

// ErrStoreUnavailable 表示仓库未注入存储实例，常见于存储打开失败后的降级运行。
var ErrStoreUnavailable = store.ErrStoreUnavailable

// Observer 接收存储层失败事件，通常由 metrics 实现。
type Observer interface {
	StoreError(op string)
}

// Repository 将 store.DB 的事务包装为缓存记录的增删查操作。
// 所有存储错误都在本层吸收：读降级为未命中，写仅记录日志。
type Repository struct {
	db       store.DB
	logger   *logrus.Logger
	observer Observer
}

// NewRepository 构造仓库；db 为 nil 时仓库处于降级模式。
func NewRepository(db store.DB, logger *logrus.Logger, observer Observer) *Repository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Repository{
		db:       db,
		logger:   logger,
		observer: observer,
	}
}

// Enabled 返回当前是否具备持久化能力。
func (r *Repository) Enabled() bool {
	return r != nil && r.db != nil
}

// Get 读取 url 对应的记录；任何存储或解码错误都视为未命中。
func (r *Repository) Get(ctx context.Context, url string) (Record, bool) {
	if !r.Enabled() {
		return Record{}, false
	}

	var raw []byte
	err := r.db.View(ctx, func(tx store.ReadTx) error {
		value, err := tx.Get(url)
		raw = value
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return Record{}, false
	default:
		r.storeFailed("get", url, err)
		return Record{}, false
	}

	rec, err := decodeRecord(url, raw)
	if err != nil {
		r.logger.WithError(err).WithField("url", url).Warn("cache_record_malformed")
		return Record{}, false
	}
	return rec, true
}

// Put 整体替换 url 对应的记录，返回写入是否已提交。
// 失败只记录日志，不以 error 形式向调用方传播。
func (r *Repository) Put(ctx context.Context, rec Record) bool {
	if !r.Enabled() {
		r.logger.WithField("url", rec.Key).Debug("cache_put_skipped")
		return false
	}
	rec.Size = int64(len(rec.Body))
	if err := rec.validate(rec.Key); err != nil {
		r.storeFailed("put", rec.Key, err)
		return false
	}

	raw, err := encodeRecord(rec)
	if err != nil {
		r.storeFailed("put", rec.Key, err)
		return false
	}
	if err := r.db.Update(ctx, func(tx store.WriteTx) error {
		return tx.Put(rec.Key, raw)
	}); err != nil {
		r.storeFailed("put", rec.Key, err)
		return false
	}
	return true
}

// ListAll 返回全部记录的元数据（Body 为空，Size 为正文长度），顺序不保证，
// 展示排序由调用方负责。损坏的记录会被跳过。
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	if !r.Enabled() {
		return nil, ErrStoreUnavailable
	}

	var records []Record
	err := r.db.View(ctx, func(tx store.ReadTx) error {
		return tx.ForEach(func(key string, value []byte) error {
			rec, err := decodeMeta(key, value)
			if err != nil {
				r.logger.WithError(err).WithField("url", key).Warn("cache_record_malformed")
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		r.storeFailed("list", "", err)
		return nil, err
	}
	return records, nil
}

// ClearAll 清空全部记录，仅供确认后的重置入口调用。
func (r *Repository) ClearAll(ctx context.Context) error {
	if !r.Enabled() {
		return ErrStoreUnavailable
	}
	if err := r.db.Update(ctx, func(tx store.WriteTx) error {
		return tx.Clear()
	}); err != nil {
		r.storeFailed("clear", "", err)
		return err
	}
	return nil
}

func (r *Repository) storeFailed(op, url string, err error) {
	if r.observer != nil {
		r.observer.StoreError(op)
	}
	fields := logrus.Fields{"op": op}
	if url != "" {
		fields["url"] = url
	}
	r.logger.WithError(err).WithFields(fields).Warn("cache_" + op + "_failed")
}
