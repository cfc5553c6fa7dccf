package ws

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"

	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the single outbound envelope: pushed events carry Event and
// Payload, acks echo the RequestID of the request they answer.
type Response struct {
	Event     string      `json:"event,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Conn wraps one websocket connection with a write lock and the session
// identity it registered with, if any.
type Conn struct {
	id string
	ws *websocket.Conn

	mtx       sync.Mutex
	sessionID string
}

func (c *Conn) setSession(sessionID string) {
	c.mtx.Lock()
	c.sessionID = sessionID
	c.mtx.Unlock()
}

func (c *Conn) session() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.sessionID
}

func (c *Conn) write(data []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send marshals and writes one envelope. Errors are returned so the read
// loop can drop the connection; they never affect other connections.
func (c *Conn) Send(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Hub is the registry of live connections. One broadcast call delivers an
// event to all of them; there are no per-client partial views beyond the
// targeted removal signal.
type Hub struct {
	mtx   sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: map[*Conn]struct{}{}}
}

func (h *Hub) add(c *Conn) {
	h.mtx.Lock()
	h.conns[c] = struct{}{}
	h.mtx.Unlock()
}

func (h *Hub) remove(c *Conn) {
	h.mtx.Lock()
	delete(h.conns, c)
	h.mtx.Unlock()
}

func (h *Hub) snapshot() []*Conn {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast pushes one event to every connection.
func (h *Hub) Broadcast(event string, payload interface{}) {
	for _, c := range h.snapshot() {
		if err := c.Send(Response{Event: event, Payload: payload}); err != nil {
			log.Debugf("ws, send=%v", err)
		}
	}
}

// ToSession pushes one event to every connection registered for the
// session id. A session can hold several tabs.
func (h *Hub) ToSession(sessionID, event string, payload interface{}) {
	for _, c := range h.snapshot() {
		if c.session() != sessionID {
			continue
		}
		if err := c.Send(Response{Event: event, Payload: payload}); err != nil {
			log.Debugf("ws, send=%v", err)
		}
	}
}
