// Package ws is the realtime fan-out/recovery gateway. Every new
// connection is caught up with the authoritative state in one burst, and
// every state-changing operation is broadcast to all connected parties
// through the event bus.
package ws

import (
	"context"
	"time"

	"github.com/classpoll/api.classpoll.dev/chat"
	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/poll"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/classpoll/api.classpoll.dev/timer"
	"github.com/classpoll/api.classpoll.dev/utils"
	"github.com/classpoll/api.classpoll.dev/vote"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"

	log "github.com/sirupsen/logrus"
)

// Request is the inbound envelope.
type Request struct {
	Op        string              `json:"op"`
	RequestID string              `json:"request_id"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

type Gateway struct {
	hub          *Hub
	polls        *poll.Manager
	votes        *vote.Admission
	sessions     store.SessionStore
	chat         *chat.Service
	timers       *timer.Authority
	bus          events.Bus
	historyLimit int
}

func NewGateway(hub *Hub, polls *poll.Manager, votes *vote.Admission, sessions store.SessionStore, chatSvc *chat.Service, timers *timer.Authority, bus events.Bus, historyLimit int) *Gateway {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Gateway{
		hub:          hub,
		polls:        polls,
		votes:        votes,
		sessions:     sessions,
		chat:         chatSvc,
		timers:       timers,
		bus:          bus,
		historyLimit: historyLimit,
	}
}

// Run forwards bus events to every live connection until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	wire := map[string]string{
		events.PollCreated:   "poll:new",
		events.PollResults:   "poll:results",
		events.PollEnded:     "poll:ended",
		events.TimerTick:     "timer:update",
		events.RosterUpdated: "students:list",
		events.ChatMessage:   "chat:message",
	}

	for ev := range g.bus.Subscribe(ctx) {
		if ev.Name == events.ParticipantRemoved {
			removal := events.Removal{}
			if err := json.Unmarshal(ev.Payload, &removal); err != nil {
				log.Errorf("ws, err=%v", err)
				continue
			}
			g.hub.ToSession(removal.SessionID, "student:kicked", nil)
			continue
		}
		if name, ok := wire[ev.Name]; ok {
			g.hub.Broadcast(name, jsoniter.RawMessage(ev.Payload))
		}
	}
}

// Mount attaches the upgrade gate and the websocket endpoint.
func (g *Gateway) Mount(app fiber.Router) {
	route := app.Group("/ws")

	route.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(426)
	})

	route.Get("/", websocket.New(g.handle))
}

func (g *Gateway) handle(wsConn *websocket.Conn) {
	id, err := utils.GenerateRandomString(12)
	if err != nil {
		log.Errorf("random, err=%v", err)
		return
	}
	conn := &Conn{id: id, ws: wsConn}

	g.hub.add(conn)
	defer g.hub.remove(conn)

	closeChan := make(chan struct{})
	defer close(closeChan)
	go heartbeat(conn, closeChan)

	g.sendSnapshot(conn)

	for {
		mt, msg, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		req := &Request{}
		if err = json.Unmarshal(msg, req); err != nil {
			if err = conn.Send(Response{Error: "invalid request"}); err != nil {
				return
			}
			continue
		}

		payload := g.dispatch(context.Background(), conn, req)
		if err = conn.Send(Response{Event: "ack", RequestID: req.RequestID, Payload: payload}); err != nil {
			return
		}
	}
}

func heartbeat(c *Conn, closeChan chan struct{}) {
	for {
		select {
		case <-time.After(60 * time.Second):
			if err := c.write(utils.S2B("HEARTBEAT")); err != nil {
				return
			}
		case <-closeChan:
			return
		}
	}
}

// sendSnapshot replays the authoritative state to a fresh connection:
// active-or-latest poll with tally, the roster, and the chat backlog. Each
// exactly once; order among the three does not matter.
func (g *Gateway) sendSnapshot(conn *Conn) {
	ctx := context.Background()

	latest, err := g.polls.LatestWithResults(ctx)
	if err != nil {
		log.Errorf("ws, err=%v", err)
	} else if latest != nil {
		if err = conn.Send(Response{Event: "poll:current", Payload: latest}); err != nil {
			return
		}
	}

	students, err := g.sessions.ListActive(ctx)
	if err != nil {
		log.Errorf("ws, err=%v", err)
	} else if err = conn.Send(Response{Event: "students:list", Payload: students}); err != nil {
		return
	}

	messages, err := g.chat.Recent(ctx)
	if err != nil {
		log.Errorf("ws, err=%v", err)
	} else if err = conn.Send(Response{Event: "chat:history", Payload: messages}); err != nil {
		return
	}
}
