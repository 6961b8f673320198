package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the client's keys in a redis hash, so the chat client and the
// background notifier can share them across processes.
type Redis struct {
	rdb  *redis.Client
	hash string
	own  bool
}

// NewRedis dials addr and stores every key as a field of the hash
// "groupchat:<namespace>".
func NewRedis(addr, namespace string) *Redis {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{rdb: rdb, hash: "groupchat:" + namespace, own: true}
}

// WrapRedis uses an existing client; Close leaves it open.
func WrapRedis(rdb *redis.Client, namespace string) *Redis {
	return &Redis{rdb: rdb, hash: "groupchat:" + namespace}
}

func (r *Redis) Get(key string) (string, bool, error) {
	v, err := r.rdb.HGet(context.Background(), r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "hget %s", key)
	}
	return v, true, nil
}

func (r *Redis) Set(key, value string) error {
	return errors.Wrapf(r.rdb.HSet(context.Background(), r.hash, key, value).Err(), "hset %s", key)
}

func (r *Redis) Delete(key string) error {
	return errors.Wrapf(r.rdb.HDel(context.Background(), r.hash, key).Err(), "hdel %s", key)
}

func (r *Redis) Close() error {
	if !r.own {
		return nil
	}
	return r.rdb.Close()
}
