package model

import "errors"

// Reason is a stable machine-readable code carried by every rejection.
type Reason string

const (
	ReasonSuccess             Reason = "SUCCESS"
	ReasonInvalidInput        Reason = "INVALID_INPUT"
	ReasonInvalidQuestion     Reason = "INVALID_QUESTION"
	ReasonInvalidOptions      Reason = "INVALID_OPTIONS"
	ReasonInvalidDuration     Reason = "INVALID_DURATION"
	ReasonInvalidParticipant  Reason = "INVALID_PARTICIPANT"
	ReasonInvalidOption       Reason = "INVALID_OPTION"
	ReasonPollNotFound        Reason = "POLL_NOT_FOUND"
	ReasonParticipantNotFound Reason = "PARTICIPANT_NOT_FOUND"
	ReasonNoActivePoll        Reason = "NO_ACTIVE_POLL"
	ReasonPollNotActive       Reason = "POLL_NOT_ACTIVE"
	ReasonPollExpired         Reason = "POLL_EXPIRED"
	ReasonAlreadyVoted        Reason = "ALREADY_VOTED"
	ReasonVoteInProgress      Reason = "VOTE_IN_PROGRESS"
	ReasonRemoved             Reason = "REMOVED"
	ReasonStorageFailed       Reason = "STORAGE_FAILED"
)

// Rejection is a business-rule failure. It is returned to the caller as a
// structured result and never propagated past the request boundary.
type Rejection struct {
	Code    Reason `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

func Reject(code Reason, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// AsRejection extracts a Rejection from err, classifying anything else as
// a storage failure so raw infrastructure errors never reach a client.
func AsRejection(err error) *Rejection {
	rej := &Rejection{}
	if errors.As(err, &rej) {
		return rej
	}
	return Reject(ReasonStorageFailed, "something went wrong, please try again")
}
