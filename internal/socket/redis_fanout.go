package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

const DefaultFanoutChannel = "nurture:notifications"

type RedisFanoutConfig struct {
	Addr     string
	Password string
	DB       int
	// Channel is the Redis channel every instance publishes notifications on.
	Channel string
}

// RedisFanout relays user notifications between instances so a client gets
// its events whichever instance holds its socket.
type RedisFanout struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewRedisFanout(log *logger.Logger, cfg RedisFanoutConfig) (*RedisFanout, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultFanoutChannel
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return &RedisFanout{
		log:     log.With("component", "RedisFanout", "channel", cfg.Channel),
		rdb:     rdb,
		channel: cfg.Channel,
	}, nil
}

// Listen subscribes to the fan-out channel and hands every notification from
// another instance to hub. It returns once the subscription is confirmed.
func (f *RedisFanout) Listen(hub *Hub) error {
	ctx, cancel := context.WithCancel(context.Background())
	sub := f.rdb.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	f.mu.Lock()
	f.stop = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		defer sub.Close()
		f.forward(ctx, sub.Channel(redis.WithChannelSize(256)), hub)
	}()
	f.log.Info("Listening for notifications from other instances")
	return nil
}

func (f *RedisFanout) forward(ctx context.Context, in <-chan *redis.Message, hub *Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				f.log.Warn("Redis subscription closed")
				return
			}
			msg, err := decodeFanout(raw.Payload)
			if err != nil {
				f.log.Warn("Dropping undecodable notification", "error", err)
				continue
			}
			hub.receiveRemote(msg)
		}
	}
}

func (f *RedisFanout) Publish(ctx context.Context, msg Message) error {
	payload, err := encodeFanout(msg)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}
	return nil
}

// Close ends the listener, waits for it to exit and closes the client.
func (f *RedisFanout) Close() {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if err := f.rdb.Close(); err != nil {
		f.log.Debug("Redis client close", "error", err)
	}
}

var errNoChannel = errors.New("notification has no channel")

func encodeFanout(m Message) ([]byte, error) {
	if m.Channel == "" {
		return nil, errNoChannel
	}
	return json.Marshal(m)
}

func decodeFanout(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, fmt.Errorf("decode notification: %w", err)
	}
	if m.Channel == "" {
		return m, errNoChannel
	}
	return m, nil
}
