package server

import (
	"context"
	"net"

	"github.com/davecgh/go-spew/spew"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/classpoll/api.classpoll.dev/chat"
	"github.com/classpoll/api.classpoll.dev/configure"
	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/poll"
	"github.com/classpoll/api.classpoll.dev/server/ws"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/classpoll/api.classpoll.dev/timer"
	"github.com/classpoll/api.classpoll.dev/utils"
	"github.com/classpoll/api.classpoll.dev/vote"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	app    *fiber.App
	ln     net.Listener
	cancel context.CancelFunc
	timers *timer.Authority
}

type customLogger struct{}

func (*customLogger) Write(data []byte) (n int, err error) {
	log.Debugln(utils.B2S(data))
	return len(data), nil
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}

// NewServer wires the engine onto the stores and event bus, resumes a
// persisted countdown if one exists, and starts listening.
func NewServer(stores *store.Stores, bus events.Bus) *Server {
	ln, err := net.Listen(configure.Config.GetString("listener_network"), configure.Config.GetString("listener_address"))
	checkErr(err)

	server := &Server{
		ln: ln,
		app: fiber.New(fiber.Config{
			ErrorHandler: errorHandler,
		}),
	}

	server.app.Use(recover.New())
	server.app.Use(cors.New())
	server.app.Use(logger.New(logger.Config{
		Output: &customLogger{},
	}))

	polls := poll.NewManager(stores.Polls, stores.Votes, bus)
	votes := vote.NewAdmission(polls, stores.Votes)
	chatSvc := chat.NewService(stores.Chat, bus, configure.Config.GetInt("chat_backlog"))
	timers := timer.NewAuthority(polls, bus)
	server.timers = timers

	ctx, cancel := context.WithCancel(context.Background())
	server.cancel = cancel

	gateway := ws.NewGateway(ws.NewHub(), polls, votes, stores.Sessions, chatSvc, timers, bus, configure.Config.GetInt("history_limit"))
	go gateway.Run(ctx)
	gateway.Mount(server.app)

	server.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	server.app.Get("/api/polls/history", func(c *fiber.Ctx) error {
		history, err := polls.History(c.Context(), configure.Config.GetInt("history_limit"))
		if err != nil {
			log.Errorf("history, err=%v", err)
			return c.Status(500).JSON(fiber.Map{
				"success": false,
				"message": "failed to load poll history",
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"polls":   history,
		})
	})

	server.app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(&fiber.Map{
			"status":  404,
			"message": "We don't know what you're looking for.",
		})
	})

	// A poll that was active before a restart keeps its original window;
	// one already past expiry is closed right away.
	if err := timers.Resume(context.Background()); err != nil {
		log.Errorf("timer, err=%v", err)
	}

	go func() {
		err = server.app.Listener(server.ln)
		if err != nil {
			log.Errorf("failed to start http server, err=%v", err)
		}
	}()

	return server
}

func errorHandler(c *fiber.Ctx, err error) error {
	log.Errorf("internal err=%v", spew.Sdump(err))

	return c.SendStatus(500)
}

func (s *Server) Shutdown() error {
	s.timers.Stop()
	s.cancel()
	return s.ln.Close()
}
