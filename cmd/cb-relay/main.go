package main

import (
	"Cerberus/internal/config"
	"Cerberus/internal/dispatch"
	"Cerberus/internal/relay"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	backend := flag.String("type", "", "Broker to tail: 'nats' or 'redis'. Defaults to relay.type from the config.")
	raw := flag.Bool("raw", false, "Print frame payloads as JSON instead of a summary line.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *backend != "" {
		cfg.Relay.Type = *backend
	}

	log.Printf("Starting cb-relay tail on %s...", cfg.Relay.Type)
	sub, err := relay.NewSubscriber(cfg.Relay)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := func(env relay.Envelope) {
		fmt.Println(formatEnvelope(env, *raw))
	}
	if err := sub.Start(ctx, handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	// Wait for a shutdown signal
	<-ctx.Done()
	log.Println("Shutdown signal received, cleaning up...")
}

func formatEnvelope(env relay.Envelope, raw bool) string {
	at := env.ReceivedAt.Local().Format(time.TimeOnly)
	if raw {
		return fmt.Sprintf("[%s] %s %s", at, env.Frame.Type, env.Frame.Data)
	}
	msg, err := dispatch.Decode(env.Frame)
	if err != nil {
		return fmt.Sprintf("[%s] %s (undecodable: %v)", at, env.Frame.Type, err)
	}
	switch m := msg.(type) {
	case dispatch.TrafficMessage:
		return fmt.Sprintf("[%s] traffic %s %dB", at, m.Event.Summary(), m.Event.PacketSize)
	case dispatch.AlertMessage:
		return fmt.Sprintf("[%s] ALERT #%d %s", at, m.Event.ID, m.Event.Message)
	case dispatch.SystemMessage:
		return fmt.Sprintf("[%s] system %s", at, m.Text)
	}
	return fmt.Sprintf("[%s] %s", at, env.Frame.Type)
}
