package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/astromechza/copypad/pkg/metrics"
)

const outboxSize = 256

// Redis relays edits over redis pub/sub, one channel per path.
type Redis struct {
	client *redis.Client
	prefix string
	origin string

	mu     sync.Mutex
	closed bool
	outbox chan outgoing
	wg     sync.WaitGroup
}

type outgoing struct {
	channel string
	payload []byte
}

func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	r := &Redis{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		outbox: make(chan outgoing, outboxSize),
	}
	r.wg.Add(1)
	go r.publishLoop()
	slog.Info("Connected to redis", "addr", addr, "origin", r.origin)
	return r, nil
}

func (r *Redis) channel(path string) string {
	return r.prefix + path
}

// publishLoop keeps publishes in submission order.
func (r *Redis) publishLoop() {
	defer r.wg.Done()
	for out := range r.outbox {
		if err := r.client.Publish(context.Background(), out.channel, out.payload).Err(); err != nil {
			slog.Error("failed to publish to redis", "channel", out.channel, "err", err)
			continue
		}
		metrics.RelayMessagesTotal.WithLabelValues("out").Inc()
	}
}

func (r *Redis) Publish(path, text string) {
	payload, err := encode(r.origin, text)
	if err != nil {
		slog.Error("failed to encode relay envelope", "err", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.outbox <- outgoing{channel: r.channel(path), payload: payload}:
	default:
		slog.Warn("dropping relay publish, outbox full", "path", path)
	}
}

func (r *Redis) Subscribe(path string, deliver func(string)) (func(), error) {
	ctx := context.Background()
	ps := r.client.Subscribe(ctx, r.channel(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to redis: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			e, err := decode([]byte(msg.Payload))
			if err != nil {
				slog.Error("failed to read relay message", "channel", msg.Channel, "err", err)
				continue
			}
			if e.Origin == r.origin {
				continue
			}
			metrics.RelayMessagesTotal.WithLabelValues("in").Inc()
			deliver(e.Text)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				slog.Error("failed to close redis subscription", "path", path, "err", err)
			}
			<-done
		})
	}, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.outbox)
	}
	r.mu.Unlock()
	r.wg.Wait()
	return r.client.Close()
}
