package model

import (
	"time"
)

// Option is one answer choice of a poll. Immutable after the poll is created.
// IsCorrect is informational only; voting logic never looks at it.
type Option struct {
	ID        string `json:"id" bson:"id"`
	Text      string `json:"text" bson:"text"`
	IsCorrect bool   `json:"isCorrect" bson:"is_correct"`
}

// Poll is one question with an active window. At most one poll is active
// at any instant system-wide.
type Poll struct {
	ID        string     `json:"id" bson:"_id"`
	Question  string     `json:"question" bson:"question"`
	Options   []Option   `json:"options" bson:"options"`
	Duration  int32      `json:"duration" bson:"duration"`
	StartedAt time.Time  `json:"startedAt" bson:"started_at"`
	EndedAt   *time.Time `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
	IsActive  bool       `json:"isActive" bson:"is_active"`
}

// Ballot is one participant's single choice for one poll. Created once,
// never updated. At most one ballot exists per (poll, session) pair.
type Ballot struct {
	ID          string    `json:"id" bson:"_id"`
	PollID      string    `json:"pollId" bson:"poll_id"`
	OptionID    string    `json:"optionId" bson:"option_id"`
	SessionID   string    `json:"studentId" bson:"session_id"`
	StudentName string    `json:"studentName" bson:"student_name"`
	CastAt      time.Time `json:"castAt" bson:"cast_at"`
}

// Participant is one registered session. The session id is client-generated
// and stable across reconnects; ConnID is replaced on every reconnect.
// Kicked, once set, is permanent for the session id.
type Participant struct {
	SessionID string    `json:"sessionId" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	ConnID    string    `json:"-" bson:"conn_id"`
	Kicked    bool      `json:"-" bson:"kicked"`
	JoinedAt  time.Time `json:"joinedAt" bson:"joined_at"`
}

// ChatMessage is one entry of the rolling chat feed.
type ChatMessage struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   string    `json:"senderId" bson:"sender_id"`
	SenderName string    `json:"senderName" bson:"sender_name"`
	SenderRole string    `json:"senderRole" bson:"sender_role"`
	Content    string    `json:"content" bson:"content"`
	SentAt     time.Time `json:"sentAt" bson:"sent_at"`
}

// OptionResult is the tallied outcome of one option.
type OptionResult struct {
	OptionID   string `json:"optionId"`
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
	IsCorrect  bool   `json:"isCorrect"`
}

// PollResults is a poll together with its tally and remaining time, both
// recomputed from the ballot set on every call. Never cached.
type PollResults struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	Options       []Option       `json:"options"`
	Duration      int32          `json:"duration"`
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       *time.Time     `json:"endedAt,omitempty"`
	IsActive      bool           `json:"isActive"`
	Results       []OptionResult `json:"results"`
	TotalVotes    int            `json:"totalVotes"`
	RemainingTime int32          `json:"remainingTime"`
}
