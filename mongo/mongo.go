package mongo

import (
	"context"
	"errors"

	"github.com/classpoll/api.classpoll.dev/configure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Database *mongo.Database
var Ctx = context.TODO()

var ErrNoDocuments = mongo.ErrNoDocuments

// IsDup reports whether err is a duplicate-key write error. The unique
// ballot index surfaces vote races through this.
func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// Setup connects to mongodb and ensures the indexes the engine relies on.
// Called once from main when the mongo storage backend is selected.
func Setup() {
	clientOptions := options.Client().ApplyURI(configure.Config.GetString("mongo_uri"))
	client, err := mongo.Connect(Ctx, clientOptions)
	if err != nil {
		panic(err)
	}

	err = client.Ping(Ctx, nil)
	if err != nil {
		panic(err)
	}

	Database = client.Database(configure.Config.GetString("mongo_db"))

	// The unique compound index is the authoritative one-vote-per-participant
	// constraint; the in-process admission lock is only the fast path.
	_, err = Database.Collection("ballots").Indexes().CreateMany(Ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "poll_id", Value: 1}, {Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.M{"poll_id": 1}},
	})
	if err != nil {
		panic(err)
	}

	_, err = Database.Collection("polls").Indexes().CreateMany(Ctx, []mongo.IndexModel{
		{Keys: bson.M{"is_active": 1}},
		{Keys: bson.M{"started_at": -1}},
	})
	if err != nil {
		panic(err)
	}

	_, err = Database.Collection("messages").Indexes().CreateOne(Ctx, mongo.IndexModel{
		Keys: bson.M{"sent_at": -1},
	})
	if err != nil {
		panic(err)
	}
}
