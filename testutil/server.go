// Package testutil provides an in-process realtime server for tests. The
// server speaks the envelope protocol over WebSocket (subscribe, unsubscribe,
// heartbeat) and serves polling endpoints over plain HTTP, with scriptable
// failure injection. No external services required.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/pkg/timestamp"
)

// Server is a scriptable realtime server for tests.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	// subscriptions observed per channel, for verification
	subscribes   map[string]int
	unsubscribes map[string]int

	// polling responses by channel
	pollBodies map[string]string

	// failure injection
	rejectUpgrades atomic.Bool
	dropHeartbeats atomic.Bool
	failPolls      atomic.Bool

	// observed auth tokens, newest last
	tokens []string
}

// NewServer starts a realtime server. The WebSocket endpoint is at /realtime
// and polling endpoints at /poll/{channel}.
func NewServer() *Server {
	s := &Server{
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:        make(map[*websocket.Conn]bool),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		pollBodies:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/realtime", s.handleWebSocket)
	mux.HandleFunc("/poll/", s.handlePoll)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the WebSocket URL of the realtime endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/realtime"
}

// PollURL returns the polling URL for a channel.
func (s *Server) PollURL(channel string) string {
	return s.httpServer.URL + "/poll/" + channel
}

// Close shuts the server down and drops all connections.
func (s *Server) Close() {
	s.CloseConnections()
	s.httpServer.Close()
}

// CloseConnections forcibly drops every live WebSocket connection, simulating
// a network failure. The server keeps accepting new connections unless
// RejectUpgrades is set.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[*websocket.Conn]bool)
}

// RejectUpgrades makes the server refuse new WebSocket connections with a
// 503 until called again with false.
func (s *Server) RejectUpgrades(reject bool) {
	s.rejectUpgrades.Store(reject)
}

// DropHeartbeats makes the server swallow heartbeat frames without acking.
func (s *Server) DropHeartbeats(drop bool) {
	s.dropHeartbeats.Store(drop)
}

// FailPolls makes every polling endpoint return a 500.
func (s *Server) FailPolls(fail bool) {
	s.failPolls.Store(fail)
}

// SetPollBody sets the JSON body served for a channel's polling endpoint.
func (s *Server) SetPollBody(channel, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollBodies[channel] = body
}

// Push sends an envelope to every live connection.
func (s *Server) Push(env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// PushRaw sends raw bytes to every live connection, for malformed-frame tests.
func (s *Server) PushRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// ConnectionCount returns the number of live WebSocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SubscribeCount returns how many subscribe frames arrived for a channel.
func (s *Server) SubscribeCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes[channel]
}

// UnsubscribeCount returns how many unsubscribe frames arrived for a channel.
func (s *Server) UnsubscribeCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribes[channel]
}

// Tokens returns the auth tokens presented on each connection attempt.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.rejectUpgrades.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	s.mu.Lock()
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Parse(data)
		if err != nil {
			continue
		}
		s.handleFrame(conn, env)
	}
}

type controlPayload struct {
	Channel string         `json:"channel"`
	Params  map[string]any `json:"params,omitempty"`
}

func (s *Server) handleFrame(conn *websocket.Conn, env envelope.Envelope) {
	switch env.Type {
	case envelope.TypeHeartbeat:
		if s.dropHeartbeats.Load() {
			return
		}
		ack := envelope.Envelope{
			Type:      envelope.TypeHeartbeatAck,
			ID:        env.ID,
			Timestamp: timestamp.Now(),
		}
		data, _ := ack.Encode()
		s.mu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
		s.mu.Unlock()

	case envelope.TypeSubscribe, envelope.TypeUnsubscribe:
		var payload controlPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		if env.Type == envelope.TypeSubscribe {
			s.subscribes[payload.Channel]++
		} else {
			s.unsubscribes[payload.Channel]++
		}
		s.mu.Unlock()
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.failPolls.Load() {
		http.Error(w, "poll failure", http.StatusInternalServerError)
		return
	}

	channel := strings.TrimPrefix(r.URL.Path, "/poll/")
	s.mu.Lock()
	body, ok := s.pollBodies[channel]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
