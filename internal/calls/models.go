package calls

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCallExists is returned when creating a record for a call SID already in the registry
	ErrCallExists = errors.New("call already exists")
	// ErrCallNotFound is returned for operations on an unknown call SID
	ErrCallNotFound = errors.New("call not found")
)

// Status is the provider-reported lifecycle status of a call
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// ParseStatus validates a status string received from the telephony provider
func ParseStatus(s string) (Status, error) {
	switch status := Status(s); status {
	case StatusInitiated, StatusRinging, StatusInProgress, StatusCompleted,
		StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return status, nil
	}
	return "", fmt.Errorf("unknown call status: %q", s)
}

// IsTerminal reports whether no further conversation can happen on the call
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// record is the mutable registry entry. Only the registry touches it, under its lock.
type record struct {
	callSID    string
	status     Status
	transcript []string
	streamSID  string
	createdAt  time.Time
	updatedAt  time.Time
}

// Snapshot is an immutable copy of a call record
type Snapshot struct {
	CallSID    string    `json:"call_sid"`
	Status     Status    `json:"status"`
	Transcript []string  `json:"transcript"`
	StreamSID  string    `json:"stream_sid,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r *record) snapshot() Snapshot {
	transcript := make([]string, len(r.transcript))
	copy(transcript, r.transcript)

	return Snapshot{
		CallSID:    r.callSID,
		Status:     r.status,
		Transcript: transcript,
		StreamSID:  r.streamSID,
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
}
