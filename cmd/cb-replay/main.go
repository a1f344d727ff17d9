package main

import (
	"Cerberus/internal/replay"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

func main() {
	// 1. Flags and the pcap file argument
	listen := flag.String("listen", "127.0.0.1:8000", "Address to serve the replay stream on.")
	interval := flag.Duration("interval", 100*time.Millisecond, "Pause between traffic frames.")
	loop := flag.Bool("loop", false, "Restart the capture at end of file.")
	token := flag.String("token", "", "Require this token on the stream URL.")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: cb-replay [flags] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Make sure the file is readable before accepting clients
	r, err := replay.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	r.Close()

	// 3. Serve the stream on the path the dashboard dials by default
	router := mux.NewRouter()
	router.Handle("/ws/traffic/", replay.NewServer(replay.Options{
		Path:     pcapFilePath,
		Interval: *interval,
		Loop:     *loop,
		Token:    *token,
	}))
	server := &http.Server{Addr: *listen, Handler: router}

	go func() {
		log.Printf("Replaying '%s' on ws://%s/ws/traffic/", pcapFilePath, *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", *listen, err)
		}
	}()

	// 4. Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Println("Shutting down replay server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
}
