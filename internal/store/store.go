package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SchemaVersion 为当前存储布局版本，打开已有存储时必须一致。
const SchemaVersion = 1

// Namespace 为唯一的记录空间名称，对应缓存文件集合。
const Namespace = "files"

// 后端类型。
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

var (
	// ErrStoreUnavailable 表示存储无法打开（权限、路径、版本不兼容或已关闭）。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransactionFailed 表示单次事务未能完成，且没有任何改动被应用。
	ErrTransactionFailed = errors.New("store transaction failed")
	// ErrNotFound 表示点查询未命中。
	ErrNotFound = errors.New("store key not found")
)

// ReadTx 是只读事务视图，读取结果在事务内保持一致。
type ReadTx interface {
	// Get 返回 key 对应的值，不存在时返回 ErrNotFound。
	Get(key string) ([]byte, error)
	// ForEach 遍历全部记录，顺序不做保证；fn 返回错误时终止遍历。
	ForEach(fn func(key string, value []byte) error) error
}

// WriteTx 在只读能力之上提供整体替换写入与清空。
type WriteTx interface {
	ReadTx
	Put(key string, value []byte) error
	Clear() error
}

// DB 是打开后的存储句柄，进程内共享一份实例。
type DB interface {
	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(WriteTx) error) error
	Version() int
	Close() error
}

// RedisOptions 描述 redis 后端连接参数。
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Options 控制 Open 使用的后端及其参数。
type Options struct {
	Backend string
	// Path 为 leveldb 目录，留空时使用内存存储。
	Path  string
	Redis RedisOptions
}

// Open 按 Options 打开（必要时创建）存储，并校验 schema 版本。
func Open(ctx context.Context, opts Options) (DB, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendLevelDB:
		return openLevelDB(ctx, opts.Path)
	case BackendRedis:
		return openRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrStoreUnavailable, opts.Backend)
	}
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func txFailed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransactionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
}

func checkSchema(raw []byte) error {
	if string(raw) != fmt.Sprint(SchemaVersion) {
		return fmt.Errorf("%w: schema version %q, want %d", ErrStoreUnavailable, string(raw), SchemaVersion)
	}
	return nil
}
