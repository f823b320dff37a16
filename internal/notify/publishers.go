package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/config"
	"safeworks.org/ptw/internal/obs"
)

// LogPublisher writes events to the service log.
type LogPublisher struct {
	logger *logrus.Entry
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: obs.Component("notify")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"kind":       ev.Kind,
		"permit_id":  ev.PermitID,
		"serial":     ev.Serial,
		"status":     ev.Status,
		"recipients": ev.Recipients,
	}).Info("notification")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// NATSPublisher publishes JSON events on <subject>.<kind>.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("ptw-api"))
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Subject(kind Kind) string {
	return p.subject + "." + string(kind)
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.conn.Publish(p.Subject(ev.Kind), data)
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(url, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts), stream: stream}, nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"kind":      string(ev.Kind),
			"permit_id": ev.PermitID,
			"payload":   data,
		},
	}).Err()
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// NewPublisher builds the publisher selected by the notify options.
func NewPublisher(opts config.NotifyOptions) (Publisher, error) {
	switch opts.Backend {
	case "", "log":
		return NewLogPublisher(), nil
	case "none":
		return nopPublisher{}, nil
	case "nats":
		return NewNATSPublisher(opts.URL, opts.Subject)
	case "redis":
		return NewRedisPublisher(opts.URL, opts.Stream)
	default:
		return nil, fmt.Errorf("unsupported notify backend: %s", opts.Backend)
	}
}
