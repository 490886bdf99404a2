package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"winmaint/internal/events"
	"winmaint/internal/host"
)

// WSHub fans bus events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan events.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan events.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("ws marshal", "err", err, "type", e.Type)
				continue
			}
			h.fanOut(data)
		}
	}
}

// fanOut evicts clients whose send buffer is full.
func (h *WSHub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("ws client evicted (too slow)")
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues e for every connected client. Events are dropped when
// the queue is full rather than blocking the bus.
func (h *WSHub) Broadcast(e events.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", e.Type)
	}
}

// wsCommand is a control message sent by a console client. APIKey must
// match when the server has one configured.
type wsCommand struct {
	Action   string `json:"action"`
	Decision string `json:"decision,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// wsReply answers one wsCommand on the sending connection only.
type wsReply struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("ws ignoring malformed message", "err", err)
			continue
		}
		reply := wsReply{Type: "reply", Action: cmd.Action}
		if err := s.applyCommand(cmd); err != nil {
			reply.Error = err.Error()
		}
		out, _ := json.Marshal(reply)
		ctxW, cancelW := context.WithTimeout(ctx, 10*time.Second)
		err = client.conn.Write(ctxW, websocket.MessageText, out)
		cancelW()
		if err != nil {
			return
		}
	}
}

var errUnauthorized = errors.New("unauthorized")

func (s *Server) applyCommand(cmd wsCommand) error {
	if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(cmd.APIKey), []byte(s.apiKey)) != 1 {
		return errUnauthorized
	}
	switch cmd.Action {
	case "pause":
		return s.sup.Pause()
	case "resume":
		return s.sup.Resume()
	case "abort":
		return s.sup.Abort()
	case "hang":
		d, err := host.ParseHangDecision(cmd.Decision)
		if err != nil {
			return err
		}
		return s.sup.AnswerHang(d)
	default:
		return errors.New("unknown action: " + cmd.Action)
	}
}
