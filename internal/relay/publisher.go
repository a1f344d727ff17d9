package relay

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 5 * time.Second

var (
	// ErrQueueFull is returned when the publisher cannot keep up and drops a frame.
	ErrQueueFull = errors.New("relay queue is full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("relay publisher is closed")
)

// PublishFunc delivers one encoded envelope to the broker.
type PublishFunc func(ctx context.Context, payload []byte) error

type queued struct {
	frame model.Frame
	at    time.Time
}

// Publisher forwards frames to NATS or Redis pub/sub from a background
// goroutine so the caller never waits on the broker.
type Publisher struct {
	backend string
	publish PublishFunc
	closeFn func()
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	wg     sync.WaitGroup
}

// NewPublisher connects to the broker selected by cfg.Type.
func NewPublisher(cfg config.RelayConfig) (*Publisher, error) {
	switch cfg.Type {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Printf("Connected to NATS server at %s", cfg.NATSURL)
		publish := func(_ context.Context, payload []byte) error {
			return nc.Publish(cfg.Subject, payload)
		}
		closeFn := func() {
			nc.Drain()
			log.Println("NATS connection drained and closed.")
		}
		return newPublisher("nats", cfg.QueueSize, publish, closeFn), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Protocol: 2,
		})
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
		publish := func(ctx context.Context, payload []byte) error {
			return rdb.Publish(ctx, cfg.Channel, payload).Err()
		}
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				log.Printf("Relay: error closing Redis client: %v", err)
			}
		}
		return newPublisher("redis", cfg.QueueSize, publish, closeFn), nil

	default:
		return nil, fmt.Errorf("unsupported relay type %q", cfg.Type)
	}
}

func newPublisher(backend string, queueSize int, publish PublishFunc, closeFn func()) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		backend: backend,
		publish: publish,
		closeFn: closeFn,
		now:     time.Now,
		queue:   make(chan queued, queueSize),
	}
	p.wg.Add(1)
	go p.run()
	log.Printf("Relay publisher started (%s, queue size %d)", backend, queueSize)
	return p
}

// Publish queues a frame for delivery. It never blocks.
func (p *Publisher) Publish(frame model.Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- queued{frame: frame, at: p.now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for item := range p.queue {
		payload, err := Encode(item.frame, item.at)
		if err != nil {
			log.Printf("Relay: dropping %s frame: %v", item.frame.Type, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.publish(ctx, payload)
		cancel()
		if err != nil {
			log.Printf("Relay: failed to publish %s frame to %s: %v", item.frame.Type, p.backend, err)
		}
	}
}

// Close flushes queued frames and releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.closeFn != nil {
		p.closeFn()
	}
	log.Printf("Relay publisher (%s) stopped.", p.backend)
}
