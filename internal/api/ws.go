package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/dispatcher"
)

const wsWriteTimeout = 10 * time.Second

// wsEvent is one frame sent to websocket clients.
type wsEvent struct {
	Type  string `json:"type"` // send, edit or error
	ID    int64  `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsInbound is one frame received from a client. Plain text frames are
// treated as {"text": ...}.
type wsInbound struct {
	Author  string `json:"author"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// wsConn is a connector.Channel over one websocket. gorilla allows a
// single concurrent writer, hence the mutex.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID atomic.Int64
}

func (c *wsConn) write(ev wsEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Send(_ context.Context, text string) (connector.Handle, error) {
	id := c.nextID.Add(1)
	if err := c.write(wsEvent{Type: "send", ID: id, Text: text}); err != nil {
		return nil, err
	}
	return wsHandle{c: c, id: id}, nil
}

type wsHandle struct {
	c  *wsConn
	id int64
}

func (h wsHandle) Edit(_ context.Context, text string) error {
	return h.c.write(wsEvent{Type: "edit", ID: h.id, Text: text})
}

// Hub broadcasts to every connected websocket client. Sessions and the
// commentator post through it.
type Hub struct {
	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	nextID atomic.Int64
}

func NewHub() *Hub { return &Hub{conns: map[*wsConn]struct{}{}} }

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) broadcast(ev wsEvent) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.write(ev)
	}
}

func (h *Hub) Send(_ context.Context, text string) (connector.Handle, error) {
	id := h.nextID.Add(1)
	h.broadcast(wsEvent{Type: "send", ID: id, Text: text})
	return hubHandle{h: h, id: id}, nil
}

type hubHandle struct {
	h  *Hub
	id int64
}

func (hh hubHandle) Edit(_ context.Context, text string) error {
	hh.h.broadcast(wsEvent{Type: "edit", ID: hh.id, Text: text})
	return nil
}

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
		},
	}
}

// Socket handles GET /v1/ws. Each text frame becomes a dispatcher item whose
// reply events go back on the same socket.
func (s *Server) Socket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	s.hub.add(c)
	defer s.hub.remove(c)

	defaultChannel := "ws-" + GetRequestID(r)
	s.logger.Info("websocket connected", "channel", defaultChannel)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("websocket closed", "channel", defaultChannel, "error", err)
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			in = wsInbound{Text: string(data)}
		}
		in.Text = strings.TrimSpace(in.Text)
		if in.Text == "" {
			continue
		}
		if in.Channel == "" {
			in.Channel = defaultChannel
		}
		if in.Author == "" {
			in.Author = "user"
		}
		err = s.disp.Submit(r.Context(), dispatcher.Item{
			Author:  in.Author,
			Channel: in.Channel,
			Payload: dispatcher.Text(in.Text),
			Reply:   c,
		})
		if err != nil {
			_ = c.write(wsEvent{Type: "error", Error: err.Error()})
		}
	}
}
