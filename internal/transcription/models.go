package transcription

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind is the type of a realtime channel event
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventStart         EventKind = "start"
	EventMedia         EventKind = "media"
	EventTranscription EventKind = "transcription"
	EventStop          EventKind = "stop"
)

// Errors reported for events that cannot be applied
var (
	ErrMalformedEvent = errors.New("malformed realtime event")
	ErrUnboundChannel = errors.New("channel is not bound to a call")
)

// Event is one JSON message on the realtime channel
type Event struct {
	Event          EventKind             `json:"event"`
	SequenceNumber string                `json:"sequenceNumber,omitempty"`
	StreamSID      string                `json:"streamSid,omitempty"`
	Start          *StartPayload         `json:"start,omitempty"`
	Media          *MediaPayload         `json:"media,omitempty"`
	Transcription  *TranscriptionPayload `json:"transcription,omitempty"`
	Stop           *StopPayload          `json:"stop,omitempty"`
}

// StartPayload binds a stream to a call
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaPayload carries base64 audio, which is never decoded
type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// TranscriptionPayload is a recognized transcript fragment. CallSID may be
// omitted once the channel has seen a start event.
type TranscriptionPayload struct {
	CallSID string `json:"callSid,omitempty"`
	Text    string `json:"text"`
}

// StopPayload marks the end of the stream
type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// ParseEvent decodes and validates one channel message
func ParseEvent(raw []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Event {
	case EventConnected, EventMedia, EventStop:
	case EventStart:
		if event.Start == nil || event.Start.CallSID == "" {
			return nil, fmt.Errorf("%w: start without callSid", ErrMalformedEvent)
		}
		if event.Start.StreamSID == "" {
			event.Start.StreamSID = event.StreamSID
		}
	case EventTranscription:
		if event.Transcription == nil || strings.TrimSpace(event.Transcription.Text) == "" {
			return nil, fmt.Errorf("%w: transcription without text", ErrMalformedEvent)
		}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, event.Event)
	}

	return &event, nil
}

// RecorderConfig is the answer journal worker configuration
type RecorderConfig struct {
	QueueSize int
}
