// Package executor owns the single persistent websocket to the browser
// extension that performs commands on the gateway's behalf. Exactly one
// authenticated executor is live at a time; a newer authenticated socket
// supersedes the old one.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browserbridge/bridge/internal/pending"
)

// ErrNotConnected is returned by Send when no executor is attached.
var ErrNotConnected = errors.New("executor not connected")

// CloseInvalidToken is sent when an auth frame carries a bad token.
const CloseInvalidToken = 4001

// Frame is the wire message exchanged with the executor. One struct covers
// all frame types; unused fields stay empty on the wire.
type Frame struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Token   string          `json:"token,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var localOriginRe = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// OriginAllowed accepts upgrade requests from extensions and local pages.
func OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "chrome-extension://") {
		return true
	}
	return localOriginRe.MatchString(origin)
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Manager upgrades executor sockets, runs the auth handshake, and
// correlates command frames with their responses.
type Manager struct {
	mu       sync.RWMutex
	live     *conn
	pending  *pending.Map
	validate func(token string) bool
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// New builds a manager. validate checks the executor auth token; timeout
// bounds how long Send waits for a response.
func New(validate func(token string) bool, timeout time.Duration) *Manager {
	return &Manager{
		pending:  pending.NewMap(),
		validate: validate,
		timeout:  timeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// Connected reports whether an authenticated executor is attached.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live != nil
}

// Pending reports how many commands are awaiting a response.
func (m *Manager) Pending() int {
	return m.pending.Len()
}

// Send dispatches a command to the executor and blocks until the response
// arrives, the command times out, or ctx is canceled. The result is the
// raw JSON the executor returned.
func (m *Manager) Send(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	m.mu.RLock()
	live := m.live
	m.mu.RUnlock()
	if live == nil {
		return nil, ErrNotConnected
	}

	id := m.pending.NextID()
	waiter := m.pending.Register(id, m.timeout)

	frame := Frame{Type: "command", ID: id, Command: command, Params: params}
	if err := live.writeJSON(frame); err != nil {
		m.pending.Reject(id, fmt.Errorf("executor write failed: %w", err))
	}

	return waiter.Wait(ctx)
}

// ServeHTTP upgrades the request, making the manager mountable as the /ws
// endpoint.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Executor] upgrade failed: %v", err)
		return
	}
	c := &conn{ws: ws}
	log.Printf("[Executor] connection opened, awaiting auth")
	go m.readPump(c)
}

func (m *Manager) readPump(c *conn) {
	defer func() {
		m.detach(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	authenticated := false
	stopPing := make(chan struct{})
	defer close(stopPing)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Executor] read error: %v", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.writeJSON(Frame{Error: "Invalid JSON"})
			continue
		}

		if !authenticated {
			if frame.Type != "auth" || frame.Token == "" {
				c.writeJSON(Frame{Error: "Must authenticate first"})
				continue
			}
			if !m.validate(frame.Token) {
				ok := false
				c.writeJSON(Frame{Type: "auth", OK: &ok, Error: "Invalid token"})
				m.closeWith(c, CloseInvalidToken, "Invalid token")
				return
			}
			authenticated = true
			m.promote(c)
			ok := true
			c.writeJSON(Frame{Type: "auth", OK: &ok})
			log.Printf("[Executor] authenticated")
			go m.pingLoop(c, stopPing)
			continue
		}

		switch frame.Type {
		case "response":
			if frame.ID == "" {
				continue
			}
			if frame.Error != "" {
				m.pending.Reject(frame.ID, errors.New(frame.Error))
			} else {
				m.pending.Resolve(frame.ID, frame.Result)
			}
		case "event":
			log.Printf("[Executor] event: %s", frame.Command)
		}
	}
}

// promote installs c as the live connection. An existing connection is
// superseded: its in-flight commands are canceled and its socket closed.
func (m *Manager) promote(c *conn) {
	m.mu.Lock()
	old := m.live
	m.live = c
	m.mu.Unlock()

	if old != nil {
		log.Printf("[Executor] superseded by new connection")
		m.pending.CancelAll(pending.CancelReason)
		old.ws.Close()
	}
}

// detach clears c if it is still the live connection and fails its
// in-flight commands. Never-promoted sockets detach as a no-op.
func (m *Manager) detach(c *conn) {
	m.mu.Lock()
	wasLive := m.live == c
	if wasLive {
		m.live = nil
	}
	m.mu.Unlock()

	if wasLive {
		m.pending.CancelAll(pending.CancelReason)
		log.Printf("[Executor] disconnected")
	}
}

func (m *Manager) closeWith(c *conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()
}

func (m *Manager) pingLoop(c *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// Shutdown fails in-flight commands and closes the live socket.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := m.live
	m.live = nil
	m.mu.Unlock()

	m.pending.CancelAll(pending.CancelReason)
	if live != nil {
		live.ws.Close()
	}
}
