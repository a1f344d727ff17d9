package relay

import (
	"Cerberus/internal/config"
	"context"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// FrameHandler processes a relayed frame.
type FrameHandler func(env Envelope)

// Subscriber receives relayed frames from the configured broker.
type Subscriber struct {
	cfg config.RelayConfig

	nc  *nats.Conn
	sub *nats.Subscription

	rdb    *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber connects to the broker selected by cfg.Type.
func NewSubscriber(cfg config.RelayConfig) (*Subscriber, error) {
	s := &Subscriber{cfg: cfg}
	switch cfg.Type {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Printf("Connected to NATS server at %s", cfg.NATSURL)
		s.nc = nc
	case "redis":
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Protocol: 2,
		})
	default:
		return nil, fmt.Errorf("unsupported relay type %q", cfg.Type)
	}
	return s, nil
}

// Start subscribes and hands every decoded frame to handler.
func (s *Subscriber) Start(ctx context.Context, handler FrameHandler) error {
	if s.nc != nil {
		sub, err := s.nc.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
			deliver(msg.Data, handler)
		})
		if err != nil {
			return err
		}
		s.sub = sub
		log.Printf("Subscribed to '%s'. Waiting for frames...", s.cfg.Subject)
		return nil
	}

	s.pubsub = s.rdb.Subscribe(ctx, s.cfg.Channel)
	// Wait for the subscription to be confirmed.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Channel, err)
	}
	ch := s.pubsub.Channel()
	log.Printf("Subscribed to '%s'. Waiting for frames...", s.cfg.Channel)
	go func() {
		for msg := range ch {
			deliver([]byte(msg.Payload), handler)
		}
	}()
	return nil
}

func deliver(data []byte, handler FrameHandler) {
	env, err := Decode(data)
	if err != nil {
		log.Printf("Error decoding relayed frame: %v", err)
		return
	}
	handler(env)
}

// Close unsubscribes and closes the broker connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	if s.rdb != nil {
		s.rdb.Close()
		log.Println("Redis connection closed.")
	}
}
