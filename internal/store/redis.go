package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "assetcache"

// redisDB 以 Redis 作为后端：值存于 <prefix>:files:<url>，键集合维护在
// <prefix>:files 中，写事务在提交时通过 MULTI/EXEC 一次性落盘。
type redisDB struct {
	client *redis.Client
	prefix string
}

func openRedis(ctx context.Context, opts RedisOptions) (DB, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, unavailable(errors.New("redis addr required"))
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(err)
	}

	db := &redisDB{client: client, prefix: prefix}
	if err := db.ensureSchema(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return db, nil
}

func (r *redisDB) ensureSchema(ctx context.Context) error {
	key := r.prefix + ":schema"
	if err := r.client.SetNX(ctx, key, fmt.Sprint(SchemaVersion), 0).Err(); err != nil {
		return unavailable(err)
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return unavailable(err)
	}
	return checkSchema(raw)
}

func (r *redisDB) indexKey() string {
	return r.prefix + ":" + Namespace
}

func (r *redisDB) valueKey(key string) string {
	return r.prefix + ":" + Namespace + ":" + key
}

func (r *redisDB) Version() int {
	return SchemaVersion
}

func (r *redisDB) View(ctx context.Context, fn func(ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return txFailed(err)
	}
	return txFailed(fn(&redisReadTx{db: r, ctx: ctx}))
}

func (r *redisDB) Update(ctx context.Context, fn func(WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return txFailed(err)
	}
	tx := &redisWriteTx{
		redisReadTx: redisReadTx{db: r, ctx: ctx},
		pending:     map[string][]byte{},
	}
	if err := fn(tx); err != nil {
		return txFailed(err)
	}
	return txFailed(tx.commit())
}

func (r *redisDB) Close() error {
	return r.client.Close()
}

type redisReadTx struct {
	db  *redisDB
	ctx context.Context
}

func (t *redisReadTx) Get(key string) ([]byte, error) {
	value, err := t.db.client.Get(t.ctx, t.db.valueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (t *redisReadTx) ForEach(fn func(key string, value []byte) error) error {
	keys, err := t.db.client.SMembers(t.ctx, t.db.indexKey()).Result()
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, err := t.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// redisWriteTx 缓冲写操作，事务内的读取能看到尚未提交的改动。
type redisWriteTx struct {
	redisReadTx
	pending map[string][]byte
	cleared []string
	clear   bool
}

func (t *redisWriteTx) Get(key string) ([]byte, error) {
	if value, ok := t.pending[key]; ok {
		return value, nil
	}
	if t.clear {
		return nil, ErrNotFound
	}
	return t.redisReadTx.Get(key)
}

func (t *redisWriteTx) ForEach(fn func(key string, value []byte) error) error {
	seen := make(map[string]struct{}, len(t.pending))
	for key, value := range t.pending {
		seen[key] = struct{}{}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if t.clear {
		return nil
	}
	return t.redisReadTx.ForEach(func(key string, value []byte) error {
		if _, ok := seen[key]; ok {
			return nil
		}
		return fn(key, value)
	})
}

func (t *redisWriteTx) Put(key string, value []byte) error {
	t.pending[key] = append([]byte(nil), value...)
	return nil
}

func (t *redisWriteTx) Clear() error {
	keys, err := t.db.client.SMembers(t.ctx, t.db.indexKey()).Result()
	if err != nil {
		return err
	}
	t.cleared = keys
	t.clear = true
	t.pending = map[string][]byte{}
	return nil
}

func (t *redisWriteTx) commit() error {
	if !t.clear && len(t.pending) == 0 {
		return nil
	}
	_, err := t.db.client.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
		if t.clear {
			for _, key := range t.cleared {
				pipe.Del(t.ctx, t.db.valueKey(key))
			}
			pipe.Del(t.ctx, t.db.indexKey())
		}
		for key, value := range t.pending {
			pipe.Set(t.ctx, t.db.valueKey(key), value, 0)
			pipe.SAdd(t.ctx, t.db.indexKey(), key)
		}
		return nil
	})
	return err
}
