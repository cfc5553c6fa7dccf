package redis

import (
	"context"

	"github.com/classpoll/api.classpoll.dev/configure"
	"github.com/go-redis/redis/v8"
)

var Ctx = context.Background()

var Client *redis.Client

// Setup connects the shared client. Called once from main when the redis
// event bus is selected.
func Setup() {
	options, err := redis.ParseURL(configure.Config.GetString("redis_uri"))
	if err != nil {
		panic(err)
	}

	Client = redis.NewClient(options)
}

type Message = redis.Message

const ErrNil = redis.Nil

type PubSub = redis.PubSub
