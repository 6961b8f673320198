package push

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
)

// RedisTransport delivers payloads over the pub/sub channel "push:<token>".
type RedisTransport struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisTransport(addr string, log zerolog.Logger) *RedisTransport {
	return &RedisTransport{rdb: redis.NewClient(&redis.Options{Addr: addr}), log: log}
}

func channel(token string) string { return "push:" + token }

func (t *RedisTransport) Subscribe(ctx context.Context, token string, fn func(model.PushPayload)) (func(), error) {
	sub := t.rdb.Subscribe(ctx, channel(token))
	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "subscribe push channel")
	}
	go func() {
		for msg := range sub.Channel() {
			var p model.PushPayload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				t.log.Warn().Err(err).Msg("dropping malformed push payload")
				continue
			}
			fn(p)
		}
	}()
	return func() { _ = sub.Close() }, nil
}

func (t *RedisTransport) Publish(ctx context.Context, token string, p model.PushPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return errors.Wrap(t.rdb.Publish(ctx, channel(token), b).Err(), "publish push")
}

func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}
