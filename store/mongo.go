package store

import (
	"context"
	"time"

	db "github.com/classpoll/api.classpoll.dev/mongo"
	"github.com/classpoll/api.classpoll.dev/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongo builds the production stores on top of a connected database.
func NewMongo(d *mongo.Database) *Stores {
	return &Stores{
		Polls:    &mongoPolls{c: d.Collection("polls")},
		Votes:    &mongoVotes{c: d.Collection("ballots")},
		Sessions: &mongoSessions{c: d.Collection("participants")},
		Chat:     &mongoChat{c: d.Collection("messages")},
	}
}

type mongoPolls struct {
	c *mongo.Collection
}

func (s *mongoPolls) Create(ctx context.Context, poll *model.Poll) error {
	_, err := s.c.InsertOne(ctx, poll)
	return err
}

func (s *mongoPolls) FindActive(ctx context.Context) (*model.Poll, error) {
	poll := &model.Poll{}
	err := s.c.FindOne(ctx, bson.M{"is_active": true}).Decode(poll)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *mongoPolls) FindByID(ctx context.Context, id string) (*model.Poll, error) {
	poll := &model.Poll{}
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(poll)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *mongoPolls) UpdateActivation(ctx context.Context, id string, active bool, endedAt *time.Time) (*model.Poll, error) {
	// Matching on the current flag makes the transition atomic; a poll that
	// was already flipped is simply not found.
	filter := bson.M{"_id": id, "is_active": !active}
	update := bson.M{"is_active": active}
	if endedAt != nil {
		update["ended_at"] = *endedAt
	}

	poll := &model.Poll{}
	err := s.c.FindOneAndUpdate(
		ctx,
		filter,
		bson.M{"$set": update},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(poll)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *mongoPolls) DeactivateAll(ctx context.Context, endedAt time.Time) error {
	_, err := s.c.UpdateMany(ctx, bson.M{"is_active": true}, bson.M{
		"$set": bson.M{"is_active": false, "ended_at": endedAt},
	})
	return err
}

func (s *mongoPolls) ListEnded(ctx context.Context, limit int) ([]*model.Poll, error) {
	cur, err := s.c.Find(ctx, bson.M{"is_active": false},
		options.Find().SetSort(bson.M{"started_at": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	polls := []*model.Poll{}
	if err = cur.All(ctx, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

type mongoVotes struct {
	c *mongo.Collection
}

func (s *mongoVotes) Create(ctx context.Context, ballot *model.Ballot) error {
	_, err := s.c.InsertOne(ctx, ballot)
	if db.IsDup(err) {
		return ErrConstraintViolation
	}
	return err
}

func (s *mongoVotes) FindOne(ctx context.Context, pollID, sessionID string) (*model.Ballot, error) {
	ballot := &model.Ballot{}
	err := s.c.FindOne(ctx, bson.M{"poll_id": pollID, "session_id": sessionID}).Decode(ballot)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ballot, nil
}

func (s *mongoVotes) FindAllForPoll(ctx context.Context, pollID string) ([]*model.Ballot, error) {
	cur, err := s.c.Find(ctx, bson.M{"poll_id": pollID})
	if err != nil {
		return nil, err
	}
	ballots := []*model.Ballot{}
	if err = cur.All(ctx, &ballots); err != nil {
		return nil, err
	}
	return ballots, nil
}

type mongoSessions struct {
	c *mongo.Collection
}

func (s *mongoSessions) Upsert(ctx context.Context, sessionID, name, connID string) (*model.Participant, error) {
	existing, err := s.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Kicked {
			return nil, ErrRemoved
		}
		existing.Name = name
		existing.ConnID = connID
		_, err = s.c.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
			"$set": bson.M{"name": name, "conn_id": connID},
		})
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	participant := &model.Participant{
		SessionID: sessionID,
		Name:      name,
		ConnID:    connID,
		JoinedAt:  time.Now(),
	}
	if _, err = s.c.InsertOne(ctx, participant); err != nil {
		if db.IsDup(err) {
			// Lost a re-registration race for the same session id; the other
			// writer's handle wins.
			return s.FindBySession(ctx, sessionID)
		}
		return nil, err
	}
	return participant, nil
}

func (s *mongoSessions) FindBySession(ctx context.Context, sessionID string) (*model.Participant, error) {
	participant := &model.Participant{}
	err := s.c.FindOne(ctx, bson.M{"_id": sessionID}).Decode(participant)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func (s *mongoSessions) MarkRemoved(ctx context.Context, sessionID string) (*model.Participant, error) {
	participant := &model.Participant{}
	err := s.c.FindOneAndUpdate(
		ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"kicked": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(participant)
	if err == db.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func (s *mongoSessions) ListActive(ctx context.Context) ([]*model.Participant, error) {
	cur, err := s.c.Find(ctx, bson.M{"kicked": false},
		options.Find().SetSort(bson.M{"joined_at": 1}))
	if err != nil {
		return nil, err
	}
	participants := []*model.Participant{}
	if err = cur.All(ctx, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

type mongoChat struct {
	c *mongo.Collection
}

func (s *mongoChat) Append(ctx context.Context, msg *model.ChatMessage) error {
	_, err := s.c.InsertOne(ctx, msg)
	return err
}

func (s *mongoChat) Recent(ctx context.Context, limit int) ([]*model.ChatMessage, error) {
	cur, err := s.c.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"sent_at": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	messages := []*model.ChatMessage{}
	if err = cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	// Newest-first from the index, returned oldest-first for replay.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
