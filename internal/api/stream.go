package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tradeworld/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and forwards hub messages.
// ?kinds=snapshot,event restricts which message kinds are sent.
// The current snapshot is sent first so clients start from a known state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	limit := s.MaxStreams
	if limit <= 0 {
		limit = defaultMaxStreams
	}
	if atomic.AddInt32(&s.streams, 1) > int32(limit) {
		atomic.AddInt32(&s.streams, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.streams, -1)

	kinds := parseKinds(r.URL.Query().Get("kinds"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch := s.Sim.Hub().Subscribe(s.StreamBuffer)
	defer s.Sim.Hub().Unsubscribe(id)
	slog.Info("stream client connected", "subscriber", id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go readPump(conn, done)

	if kinds.allows(stream.KindSnapshot) {
		snap := stream.Message{Kind: stream.KindSnapshot, Time: s.Sim.Now(), Payload: s.Sim.Snapshot()}
		if err := writeMessage(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !kinds.allows(msg.Kind) {
				continue
			}
			if err := writeMessage(conn, msg); err != nil {
				slog.Debug("stream write failed", "subscriber", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			slog.Info("stream client disconnected", "subscriber", id)
			return
		}
	}
}

// readPump discards client frames and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg stream.Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

type kindFilter map[stream.Kind]bool

func parseKinds(q string) kindFilter {
	if q == "" {
		return nil
	}
	f := make(kindFilter)
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			f[stream.Kind(k)] = true
		}
	}
	return f
}

// allows reports whether k passes; an empty filter passes everything.
func (f kindFilter) allows(k stream.Kind) bool {
	return len(f) == 0 || f[k]
}
