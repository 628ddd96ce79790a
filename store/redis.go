package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisKV mirrors session state into Redis so it survives process restarts on
// hosts that already run one.
type RedisKV struct {
	rdb *redis.Client
	ctx context.Context
}

func NewRedisKV(address string) *RedisKV {
	return &RedisKV{
		rdb: redis.NewClient(&redis.Options{Addr: address}),
		ctx: context.Background(),
	}
}

func (r *RedisKV) Get(key string, v any) error {
	raw, err := r.rdb.Get(r.ctx, "state:"+key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func (r *RedisKV) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.Set(r.ctx, "state:"+key, raw, 0).Err()
}

func (r *RedisKV) Delete(key string) error {
	return r.rdb.Del(r.ctx, "state:"+key).Err()
}
