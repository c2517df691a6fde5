// Package transcription consumes realtime call channels and keeps the call
// transcripts and answer journal up to date.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-call/internal/calls"
	ws "github.com/yegors/co-call/internal/websocket"
	"github.com/yegors/co-call/pkg/logger"
)

// Broadcaster fans messages out to listeners without blocking
type Broadcaster interface {
	Broadcast(msg *ws.Message)
}

// MessageSource is the read side of a realtime channel
type MessageSource interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// Channel is the per-connection state of one realtime channel
type Channel struct {
	StreamSID string
	CallSID   string

	Events  int
	Media   int
	Skipped int
}

// Router dispatches realtime events to the call registry. A channel is served
// by a single goroutine; different channels run independently.
type Router struct {
	registry    *calls.Registry
	broadcaster Broadcaster
	logger      *logger.Logger
	now         func() time.Time
}

// NewRouter creates a router. broadcaster may be nil.
func NewRouter(registry *calls.Registry, broadcaster Broadcaster, log *logger.Logger) *Router {
	return &Router{
		registry:    registry,
		broadcaster: broadcaster,
		logger:      log.Named("realtime-router"),
		now:         time.Now,
	}
}

// Serve reads events until the source fails or ctx is done. Malformed events
// are logged and skipped. A normal close returns nil.
func (r *Router) Serve(ctx context.Context, src MessageSource) (*Channel, error) {
	ch := &Channel{}

	for {
		if err := ctx.Err(); err != nil {
			return ch, nil
		}

		messageType, data, err := src.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ch, nil
			}
			return ch, fmt.Errorf("realtime channel read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := r.Dispatch(ch, data); err != nil {
			ch.Skipped++
			r.logger.Warn("Skipping realtime event",
				logger.String("stream_sid", ch.StreamSID),
				logger.String("call_sid", ch.CallSID),
				logger.Error(err))
		}
	}
}

// Dispatch applies one raw event to the channel
func (r *Router) Dispatch(ch *Channel, raw []byte) error {
	event, err := ParseEvent(raw)
	if err != nil {
		return err
	}
	ch.Events++

	switch event.Event {
	case EventConnected:
		r.logger.Debug("Realtime channel connected")

	case EventStart:
		ch.StreamSID = event.Start.StreamSID
		ch.CallSID = event.Start.CallSID
		r.logger.Info("Realtime stream started",
			logger.String("stream_sid", ch.StreamSID),
			logger.String("call_sid", ch.CallSID))

		if err := r.registry.SetStream(ch.CallSID, ch.StreamSID); err != nil {
			r.logger.Warn("Stream started for unknown call",
				logger.String("call_sid", ch.CallSID),
				logger.Error(err))
		}

	case EventMedia:
		ch.Media++

	case EventTranscription:
		return r.appendTranscript(ch, event.Transcription)

	case EventStop:
		callSID := ch.CallSID
		if event.Stop != nil && event.Stop.CallSID != "" {
			callSID = event.Stop.CallSID
		}
		r.logger.Info("Realtime stream stopped",
			logger.String("stream_sid", ch.StreamSID),
			logger.String("call_sid", callSID),
			logger.Int("events", ch.Events),
			logger.Int("media", ch.Media),
			logger.Int("skipped", ch.Skipped))
	}

	return nil
}

func (r *Router) appendTranscript(ch *Channel, payload *TranscriptionPayload) error {
	callSID := payload.CallSID
	if callSID == "" {
		callSID = ch.CallSID
	}
	if callSID == "" {
		return ErrUnboundChannel
	}

	if err := r.registry.AppendTranscript(callSID, payload.Text); err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			return fmt.Errorf("transcript for unknown call: %w", err)
		}
		return err
	}

	r.logger.Debug("Transcript appended",
		logger.String("call_sid", callSID),
		logger.String("text", payload.Text))

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(&ws.Message{
			Type: ws.TypeTranscriptUpdate,
			Data: map[string]interface{}{
				"call_sid":   callSID,
				"stream_sid": ch.StreamSID,
				"text":       payload.Text,
				"timestamp":  r.now().UTC(),
			},
		})
	}

	return nil
}
