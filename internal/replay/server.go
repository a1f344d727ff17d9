package replay

import (
	"Cerberus/internal/model"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

// CompleteMessage is the system message sent after a non-looping replay.
const CompleteMessage = "Replay complete"

// Options configures a replay server.
type Options struct {
	// Path is the pcap file replayed to every client.
	Path string
	// Interval is the pause between traffic frames.
	Interval time.Duration
	// Loop restarts the file instead of closing the connection at EOF.
	Loop bool
	// Token, when set, must match the token query parameter.
	Token string
}

// Server speaks the dashboard's traffic stream protocol, emitting one traffic
// frame per packet of a capture file. It stands in for the real backend
// during local development.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a replay server.
func NewServer(opts Options) *Server {
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.URL.Query().Get("token") != s.opts.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade replay connection: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Clients never send anything; a read error means they went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("Replaying %s to %s", s.opts.Path, r.RemoteAddr)
	if err := writeFrame(conn, "system", "Replaying "+filepath.Base(s.opts.Path)); err != nil {
		return
	}
	for {
		sent, err := s.replayOnce(ctx, conn)
		if err != nil {
			log.Printf("Replay to %s stopped after %d frames: %v", r.RemoteAddr, sent, err)
			return
		}
		if !s.opts.Loop {
			break
		}
	}
	if err := writeFrame(conn, "system", CompleteMessage); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Server) replayOnce(ctx context.Context, conn *websocket.Conn) (int, error) {
	reader, err := NewReader(s.opts.Path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	events := make(chan model.TrafficEvent)
	readErr := make(chan error, 1)
	readCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { readErr <- reader.ReadEvents(readCtx, events) }()

	sent := 0
	for ev := range events {
		ev.Timestamp = model.Timestamp{Time: time.Now()}
		if err := writeFrame(conn, "traffic", ev); err != nil {
			stop()
			for range events {
			}
			return sent, err
		}
		sent++
		if s.opts.Interval > 0 {
			select {
			case <-time.After(s.opts.Interval):
			case <-ctx.Done():
			}
		}
	}
	if err := <-readErr; err != nil {
		return sent, err
	}
	return sent, ctx.Err()
}

func writeFrame(conn *websocket.Conn, typ string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(model.Frame{Type: typ, Data: data})
}
