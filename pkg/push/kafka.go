package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/groupchat/pkg/model"
)

// KafkaTransport delivers payloads on one topic keyed by token. Every
// subscriber reads with its own consumer group so a token sees all of its
// deliveries.
type KafkaTransport struct {
	brokers []string
	topic   string
	log     zerolog.Logger

	mu     sync.Mutex
	writer *kafka.Writer
	closed bool
}

func NewKafkaTransport(brokers []string, topic string, log zerolog.Logger) *KafkaTransport {
	return &KafkaTransport{brokers: brokers, topic: topic, log: log}
}

func (t *KafkaTransport) Subscribe(ctx context.Context, token string, fn func(model.PushPayload)) (func(), error) {
	if len(t.brokers) == 0 {
		return nil, errors.New("kafka transport: no brokers")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.brokers,
		Topic:       t.topic,
		GroupID:     "push-" + token,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer r.Close()
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.log.Warn().Err(err).Msg("push consumer stopped")
				}
				return
			}
			if string(m.Key) != token {
				continue
			}
			var p model.PushPayload
			if err := json.Unmarshal(m.Value, &p); err != nil {
				t.log.Warn().Err(err).Msg("dropping malformed push payload")
				continue
			}
			fn(p)
		}
	}()
	return cancel, nil
}

func (t *KafkaTransport) Publish(ctx context.Context, token string, p model.PushPayload) error {
	w, err := t.producer()
	if err != nil {
		return err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = w.WriteMessages(ctx, kafka.Message{Key: []byte(token), Value: b, Time: time.Now()})
	return errors.Wrap(err, "write push to kafka")
}

// producer creates the writer on first use.
func (t *KafkaTransport) producer() (*kafka.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("kafka transport: closed")
	}
	if t.writer == nil {
		t.writer = &kafka.Writer{
			Addr:     kafka.TCP(t.brokers...),
			Topic:    t.topic,
			Balancer: &kafka.Hash{},
		}
	}
	return t.writer, nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	w := t.writer
	t.writer, t.closed = nil, true
	t.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}
