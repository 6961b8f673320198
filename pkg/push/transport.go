package push

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
)

// Transport carries push payloads from the provider to a token holder.
type Transport interface {
	// Subscribe calls fn for every payload addressed to token until the
	// returned function is called.
	Subscribe(ctx context.Context, token string, fn func(model.PushPayload)) (func(), error)
	Publish(ctx context.Context, token string, p model.PushPayload) error
	Close() error
}

// NewTransport builds the transport named by kind: "redis", "kafka",
// "memory", or "none" for no transport at all.
func NewTransport(kind, redisAddr string, brokers []string, topic string, log zerolog.Logger) (Transport, error) {
	switch kind {
	case "redis":
		return NewRedisTransport(redisAddr, log), nil
	case "kafka":
		return NewKafkaTransport(brokers, topic, log), nil
	case "memory":
		return NewMemoryTransport(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, errors.Errorf("unknown push transport %q", kind)
	}
}
