package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/classpoll/api.classpoll.dev/configure"
	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/mongo"
	"github.com/classpoll/api.classpoll.dev/redis"
	"github.com/classpoll/api.classpoll.dev/server"
	"github.com/classpoll/api.classpoll.dev/store"
)

func main() {
	log.Infoln("Application Starting...")

	configCode := configure.Config.GetInt("exit_code")
	if configCode > 125 || configCode < 0 {
		log.Warnf("Invalid exit code specified in config (%v), using 0 as new exit code.", configCode)
		configCode = 0
	}

	var stores *store.Stores
	var bus events.Bus

	switch configure.Config.GetString("storage") {
	case "memory":
		log.Warnln("Using in-memory storage, state will not survive a restart.")
		stores = store.NewMemory()
		bus = events.NewLocal()
	default:
		mongo.Setup()
		redis.Setup()
		stores = store.NewMongo(mongo.Database)
		bus = events.NewRedis(redis.Client)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	s := server.NewServer(stores, bus)

	go func() {
		sig := <-c
		log.Infof("sig=%v, gracefully shutting down...", sig)
		start := time.Now().UnixNano()

		wg := sync.WaitGroup{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			if err := s.Shutdown(); err != nil {
				log.Errorf("server, shutdown=%v", err)
			}
		}()

		wg.Wait()

		log.Infof("Shutdown took, %.2fms", float64(time.Now().UnixNano()-start)/10e5)
		os.Exit(configCode)
	}()

	log.Infoln("Application Started.")

	select {}
}
