package conversation

import (
	"errors"
	"strings"
)

// ErrInvalidPosition is returned for a negative conversation position
var ErrInvalidPosition = errors.New("invalid conversation position")

// State is the driver state a turn leaves the conversation in
type State int

const (
	StateAwaitingFirstPrompt State = iota
	StateAwaitingResponse
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstPrompt:
		return "awaiting_first_prompt"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Answer is a prompt/answer pairing observed on a call
type Answer struct {
	CallSID  string `json:"call_sid"`
	Position int    `json:"position"`
	Topic    string `json:"topic"`
	Text     string `json:"text"`
}

// Recorder receives every pairing the driver observes. It must not block.
type Recorder interface {
	Record(answer Answer)
}

// Turn is the outcome of one webhook invocation: everything the caller hears
// next and what the call does afterwards. It renders to exactly one response
// document.
type Turn struct {
	State State
	// Utterances are spoken in order. Never empty, no element is blank.
	Utterances []string
	// Position is the index the next speech result answers. Equals the script
	// length once finished.
	Position int
	// Listen requests the next speech input; false only when finished.
	Listen bool
	// Hangup ends the call after speaking.
	Hangup bool
	// Reprompt is set when the position was repeated because nothing was heard.
	Reprompt bool
	// Degraded is set when the generator failed and the fallback was spoken.
	Degraded bool
	// Answer is the pairing recorded by this turn, if any.
	Answer *Answer
}

// Text joins the utterances into a single line
func (t Turn) Text() string {
	return strings.Join(t.Utterances, " ")
}
