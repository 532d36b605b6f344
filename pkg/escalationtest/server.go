// Package escalationtest provides an in-process escalation service for tests.
// It speaks the same WebSocket protocol as the real service, applies commands to
// its own incident table and pushes timer_update events back to clients.
package escalationtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/incident"
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake escalation service.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	states   map[int64]incident.State
	clients  map[*client]struct{}
	commands []codec.Command
	accepted int
	refuse   bool
	silent   bool
	notify   chan struct{}
}

// NewServer starts a fake service on a local port.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		states:   make(map[int64]incident.State),
		clients:  make(map[*client]struct{}),
		notify:   make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the ws:// address of the service.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close disconnects every client and stops the service.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// SetRefuse makes the service reject (true) or accept (false) new connections.
func (s *Server) SetRefuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// SetSilent stops (true) or resumes (false) pushing state after commands.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Accepted returns how many connections the service accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Commands returns every command received so far, in arrival order.
func (s *Server) Commands() []codec.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]codec.Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// WaitForCommands blocks until at least n commands arrived or the timeout passes,
// and returns what arrived.
func (s *Server) WaitForCommands(n int, timeout time.Duration) []codec.Command {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if len(s.commands) >= n {
			out := make([]codec.Command, len(s.commands))
			copy(out, s.commands)
			s.mu.Unlock()
			return out
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return s.Commands()
		}
	}
}

// State returns the service's view of an incident.
func (s *Server) State(id int64) incident.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(id)
}

func (s *Server) stateLocked(id int64) incident.State {
	st, ok := s.states[id]
	if !ok {
		return incident.NewState(id)
	}
	return st
}

// Seed replaces the service's state of an incident without pushing it.
func (s *Server) Seed(st incident.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ID] = st
}

// Push broadcasts st to every client as a timer_update.
func (s *Server) Push(st incident.State) {
	data, err := codec.EncodeEvent(st)
	if err != nil {
		return
	}
	s.Broadcast(data)
}

// Broadcast sends a raw message to every client.
func (s *Server) Broadcast(data []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.write(data)
	}
}

// Tick lowers the remaining time of the running level by seconds and pushes the result.
func (s *Server) Tick(id int64, seconds int64) {
	s.mu.Lock()
	st := s.stateLocked(id)
	if l := st.RunningLevel(); l > 0 {
		st.Levels[l-1].Remaining = max(st.Levels[l-1].Remaining-seconds, 0)
	}
	s.states[id] = st
	s.mu.Unlock()
	s.Push(st)
}

// DropConnections closes every open connection without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		_ = c.conn.Close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd codec.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		s.handle(c, cmd)
	}
}

func (s *Server) handle(c *client, cmd codec.Command) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	close(s.notify)
	s.notify = make(chan struct{})

	st := s.stateLocked(cmd.Incident)
	mutated := true
	switch cmd.Action {
	case codec.ActionStartTimer:
		if incident.ValidLevel(cmd.Level) {
			if cur := st.RunningLevel(); cur > 0 {
				if cmd.Level > cur {
					st.Levels[cur-1].Status = incident.StatusFinished
				} else {
					st.Levels[cur-1].Status = incident.StatusIdle
					st.Levels[cur-1].Remaining = 0
				}
			}
			st.Levels[cmd.Level-1].Status = incident.StatusRunning
			st.Levels[cmd.Level-1].Remaining = cmd.Duration
		}
	case codec.ActionUpdateAnnotation:
		if incident.ValidLevel(cmd.Level) {
			st.Levels[cmd.Level-1].Annotation = cmd.Annotation
		}
	case codec.ActionUpdateOperator:
		st.Operator = cmd.Operator
	case codec.ActionFinalize:
		if cur := st.RunningLevel(); cur > 0 {
			st.Levels[cur-1].Status = incident.StatusFinished
		}
		st.FinalStatus = incident.FinalFinalized
	default:
		mutated = false
	}
	s.states[cmd.Incident] = st
	silent := s.silent
	s.mu.Unlock()

	if silent {
		return
	}
	data, err := codec.EncodeEvent(st)
	if err != nil {
		return
	}
	if mutated {
		s.Broadcast(data)
		return
	}
	_ = c.write(data)
}
