package monitor

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// streamHandler pushes the dashboard view to a WebSocket client after every change.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Monitor: error upgrading to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	views, unsubscribe := s.dash.Subscribe()
	defer unsubscribe()
	log.Printf("Monitor: state subscriber connected: %s", conn.RemoteAddr())

	// The client never sends anything we act on; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case view, ok := <-views:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard stopped")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				log.Printf("Monitor: state subscriber %s dropped: %v", conn.RemoteAddr(), err)
				return
			}
		case <-gone:
			log.Printf("Monitor: state subscriber disconnected: %s", conn.RemoteAddr())
			return
		}
	}
}
