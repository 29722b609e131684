package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-parley/pkg/schema"
)

const (
	// DefaultRedisChannel is the pub/sub channel events are mirrored to.
	DefaultRedisChannel = "parley.events"

	mirrorBuffer   = 256
	publishTimeout = 2 * time.Second
)

// publisher is the subset of the redis client the mirror needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisMirror forwards every bus event to a Redis pub/sub channel so that
// out-of-process observers can follow runs. Publishing happens on a
// background goroutine and never blocks the emitter; events are dropped
// when the queue is full.
type RedisMirror struct {
	client  publisher
	channel string
	queue   chan schema.RunEvent
	logger  *slog.Logger

	subID int
	bus   *Bus

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRedisMirror connects to the Redis server at url (redis://host:port/db).
func NewRedisMirror(url, channel string, logger *slog.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return newRedisMirror(redis.NewClient(opts), channel, logger), nil
}

func newRedisMirror(client publisher, channel string, logger *slog.Logger) *RedisMirror {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{
		client:  client,
		channel: channel,
		queue:   make(chan schema.RunEvent, mirrorBuffer),
		logger:  logger.With("component", "events.redis"),
	}
}

// Attach subscribes the mirror to every event on bus and starts publishing.
func (m *RedisMirror) Attach(bus *Bus) {
	m.bus = bus
	m.subID = bus.Subscribe(Wildcard, m.enqueue)
	m.wg.Add(1)
	go m.run()
}

func (m *RedisMirror) enqueue(ev schema.RunEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("mirror queue full, dropping event", "event_type", ev.Type)
	}
}

func (m *RedisMirror) run() {
	defer m.wg.Done()
	for ev := range m.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			m.logger.Warn("encode event failed", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = m.client.Publish(ctx, m.channel, payload).Err()
		cancel()
		if err != nil {
			m.logger.Debug("publish failed", "event_type", ev.Type, "error", err)
		}
	}
}

// Close detaches from the bus, flushes queued events and closes the client.
func (m *RedisMirror) Close() error {
	var err error
	m.stopOnce.Do(func() {
		if m.bus != nil {
			m.bus.Unsubscribe(m.subID)
		}
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		m.wg.Wait()
		err = m.client.Close()
	})
	return err
}
