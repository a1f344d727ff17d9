package main

import (
	"Cerberus/internal/alerter"
	"Cerberus/internal/api"
	"Cerberus/internal/config"
	"Cerberus/internal/dashboard"
	"Cerberus/internal/metrics"
	"Cerberus/internal/model"
	"Cerberus/internal/monitor"
	"Cerberus/internal/notification"
	"Cerberus/internal/relay"
	"Cerberus/internal/session"
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	sessions := session.NewStore()
	client := api.NewClient(cfg.API, sessions)

	// Optional frame relay
	var frameRelay model.FrameRelay
	if cfg.Relay.Enabled {
		pub, err := relay.NewPublisher(cfg.Relay)
		if err != nil {
			log.Printf("Frame relay disabled: %v", err)
		} else {
			frameRelay = pub
			defer pub.Close()
		}
	}

	// Optional alert digest
	var digest *alerter.Alerter
	if cfg.Alerter.Enabled {
		digest, err = alerter.NewAlerter(&cfg.Alerter, notification.New(cfg.SMTP))
		if err != nil {
			log.Fatalf("Failed to create alerter: %v", err)
		}
		digest.Start()
		defer digest.Stop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var dash *dashboard.Dashboard
	collector := metrics.NewCollector(func() model.DashboardView { return dash.GetState() })
	opts := dashboard.Options{
		Buffers:  cfg.Buffers,
		Relay:    frameRelay,
		Recorder: collector,
	}
	if digest != nil {
		opts.Alerts = digest
	}
	dash = dashboard.New(client, sessions, dashboard.ManagerFactory(cfg.Stream), opts)
	registry.MustRegister(collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan struct{})
	go func() {
		dash.Run(ctx)
		close(loopDone)
	}()

	// gRPC health service
	healthSvc := monitor.NewHealth()
	go healthSvc.Watch(ctx, dash)
	if cfg.Monitor.GrpcListenAddr != "" {
		grpcServer := grpc.NewServer()
		healthSvc.Register(grpcServer)
		lis, err := net.Listen("tcp", cfg.Monitor.GrpcListenAddr)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", cfg.Monitor.GrpcListenAddr, err)
		}
		go func() {
			log.Printf("gRPC health server starting on %s", cfg.Monitor.GrpcListenAddr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server stopped: %v", err)
			}
		}()
		defer grpcServer.GracefulStop()
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.Monitor.HttpListenAddr,
		Handler: monitor.NewServer(dash, registry),
	}
	go func() {
		log.Printf("Monitor server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	if cfg.Auth.Username != "" && cfg.Auth.Password != "" {
		go func() {
			loginCtx, cancel := context.WithTimeout(ctx, 2*config.Duration(cfg.API.Timeout, 15*time.Second))
			defer cancel()
			if err := dash.Login(loginCtx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
				log.Printf("Startup login failed: %v", err)
				return
			}
			if err := dash.Connect(loginCtx); err != nil {
				log.Printf("Dashboard connect: %v", err)
			}
		}()
	} else {
		log.Println("No credentials configured, waiting for POST /api/v1/login")
	}

	// Graceful shutdown
	<-ctx.Done()
	log.Println("Cerberus dashboard shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	<-loopDone
	log.Println("Cerberus dashboard exited.")
}
