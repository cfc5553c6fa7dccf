package ws

import (
	"context"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/store"

	log "github.com/sirupsen/logrus"
)

// Ack is the base of every operation acknowledgement.
type Ack struct {
	Success bool         `json:"success"`
	Code    model.Reason `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

func okAck() Ack {
	return Ack{Success: true, Code: model.ReasonSuccess}
}

func failAck(err error) Ack {
	rej := model.AsRejection(err)
	if rej.Code == model.ReasonStorageFailed {
		log.Errorf("ws, err=%v", err)
	}
	return Ack{Success: false, Code: rej.Code, Message: rej.Message}
}

type registerAck struct {
	Ack
	Student    *model.Participant `json:"student,omitempty"`
	ActivePoll *model.PollResults `json:"activePoll,omitempty"`
	HasVoted   bool               `json:"hasVoted"`
}

type pollAck struct {
	Ack
	Poll *model.PollResults `json:"poll,omitempty"`
}

type historyAck struct {
	Ack
	Polls []*model.PollResults `json:"polls,omitempty"`
}

type currentAck struct {
	Ack
	Poll     *model.PollResults `json:"poll,omitempty"`
	HasVoted bool               `json:"hasVoted"`
}

type votedAck struct {
	Ack
	HasVoted bool `json:"hasVoted"`
}

type chatAck struct {
	Ack
	Message *model.ChatMessage `json:"message,omitempty"`
}

func (g *Gateway) dispatch(ctx context.Context, conn *Conn, req *Request) interface{} {
	switch req.Op {
	case "poll:create":
		return g.opCreatePoll(ctx, req.Payload)
	case "poll:end":
		return g.opEndPoll(ctx, req.Payload)
	case "poll:history":
		return g.opHistory(ctx, req.Payload)
	case "poll:getCurrent":
		return g.opGetCurrent(ctx, req.Payload)
	case "vote:submit":
		return g.opSubmitVote(ctx, req.Payload)
	case "vote:check":
		return g.opCheckVote(ctx, req.Payload)
	case "student:register", "student:resume":
		// Fresh sessions and returning ones go through the same idempotent
		// upsert; the ops differ only in what the client believes it is.
		return g.opRegister(ctx, conn, req.Payload)
	case "student:kick":
		return g.opKick(ctx, req.Payload)
	case "chat:send":
		return g.opChatSend(ctx, req.Payload)
	default:
		return failAck(model.Reject(model.ReasonInvalidInput, "unknown operation"))
	}
}

func (g *Gateway) opCreatePoll(ctx context.Context, payload []byte) interface{} {
	req := struct {
		Question string         `json:"question"`
		Options  []model.Option `json:"options"`
		Duration int32          `json:"duration"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	created, err := g.polls.Create(ctx, req.Question, req.Options, req.Duration)
	if err != nil {
		return failAck(err)
	}
	g.timers.Start(created.ID, created.Duration, created.StartedAt)

	res, err := g.polls.WithResults(ctx, created.ID)
	if err != nil {
		return failAck(err)
	}
	return pollAck{Ack: okAck(), Poll: res}
}

func (g *Gateway) opEndPoll(ctx context.Context, payload []byte) interface{} {
	req := struct {
		PollID string `json:"pollId"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	ended, err := g.polls.End(ctx, req.PollID)
	if err != nil {
		return failAck(err)
	}
	res, err := g.polls.WithResults(ctx, ended.ID)
	if err != nil {
		return failAck(err)
	}
	return pollAck{Ack: okAck(), Poll: res}
}

func (g *Gateway) opHistory(ctx context.Context, payload []byte) interface{} {
	req := struct {
		Limit int `json:"limit"`
	}{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
		}
	}
	if req.Limit <= 0 {
		req.Limit = g.historyLimit
	}

	history, err := g.polls.History(ctx, req.Limit)
	if err != nil {
		return failAck(err)
	}
	return historyAck{Ack: okAck(), Polls: history}
}

func (g *Gateway) opGetCurrent(ctx context.Context, payload []byte) interface{} {
	req := struct {
		StudentID string `json:"studentId"`
	}{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
		}
	}

	latest, err := g.polls.LatestWithResults(ctx)
	if err != nil {
		return failAck(err)
	}

	hasVoted := false
	if latest != nil && req.StudentID != "" {
		if hasVoted, err = g.votes.HasVoted(ctx, latest.ID, req.StudentID); err != nil {
			return failAck(err)
		}
	}
	return currentAck{Ack: okAck(), Poll: latest, HasVoted: hasVoted}
}

func (g *Gateway) opSubmitVote(ctx context.Context, payload []byte) interface{} {
	req := struct {
		PollID      string `json:"pollId"`
		OptionID    string `json:"optionId"`
		StudentID   string `json:"studentId"`
		StudentName string `json:"studentName"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	if _, err := g.votes.Submit(ctx, req.PollID, req.OptionID, req.StudentID, req.StudentName); err != nil {
		return failAck(err)
	}
	return okAck()
}

func (g *Gateway) opCheckVote(ctx context.Context, payload []byte) interface{} {
	req := struct {
		PollID    string `json:"pollId"`
		StudentID string `json:"studentId"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	hasVoted, err := g.votes.HasVoted(ctx, req.PollID, req.StudentID)
	if err != nil {
		return failAck(err)
	}
	return votedAck{Ack: okAck(), HasVoted: hasVoted}
}

// opRegister serves both fresh sessions and resumed ones: registering an
// already-known, non-removed session id only replaces its connection
// handle and name, and the ack carries the caller's vote status so a
// refreshed client cannot double-act.
func (g *Gateway) opRegister(ctx context.Context, conn *Conn, payload []byte) interface{} {
	req := struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}
	if req.SessionID == "" || req.Name == "" {
		return failAck(model.Reject(model.ReasonInvalidParticipant, "session id and name required"))
	}

	student, err := g.sessions.Upsert(ctx, req.SessionID, req.Name, conn.id)
	if err != nil {
		if err == store.ErrRemoved {
			if err = conn.Send(Response{Event: "student:kicked"}); err != nil {
				log.Debugf("ws, send=%v", err)
			}
			return failAck(model.Reject(model.ReasonRemoved, "you have been removed from this session"))
		}
		return failAck(err)
	}
	conn.setSession(req.SessionID)

	active, err := g.polls.ActiveWithResults(ctx)
	if err != nil {
		return failAck(err)
	}
	hasVoted := false
	if active != nil {
		if hasVoted, err = g.votes.HasVoted(ctx, active.ID, req.SessionID); err != nil {
			return failAck(err)
		}
	}

	g.publishRoster(ctx)

	return registerAck{Ack: okAck(), Student: student, ActivePoll: active, HasVoted: hasVoted}
}

func (g *Gateway) opKick(ctx context.Context, payload []byte) interface{} {
	req := struct {
		SessionID string `json:"sessionId"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	student, err := g.sessions.MarkRemoved(ctx, req.SessionID)
	if err != nil {
		return failAck(err)
	}
	if student == nil {
		return failAck(model.Reject(model.ReasonParticipantNotFound, "student not found"))
	}

	err = g.bus.Publish(ctx, events.ParticipantRemoved, events.Removal{SessionID: req.SessionID})
	if err != nil {
		log.Errorf("events, err=%v", err)
	}
	g.publishRoster(ctx)

	return okAck()
}

func (g *Gateway) opChatSend(ctx context.Context, payload []byte) interface{} {
	req := struct {
		SenderID   string `json:"senderId"`
		SenderName string `json:"senderName"`
		SenderRole string `json:"senderRole"`
		Content    string `json:"content"`
	}{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return failAck(model.Reject(model.ReasonInvalidInput, "malformed payload"))
	}

	msg, err := g.chat.Send(ctx, req.SenderID, req.SenderName, req.SenderRole, req.Content)
	if err != nil {
		return failAck(err)
	}
	return chatAck{Ack: okAck(), Message: msg}
}

func (g *Gateway) publishRoster(ctx context.Context) {
	students, err := g.sessions.ListActive(ctx)
	if err != nil {
		log.Errorf("ws, err=%v", err)
		return
	}
	if err = g.bus.Publish(ctx, events.RosterUpdated, students); err != nil {
		log.Errorf("events, err=%v", err)
	}
}
