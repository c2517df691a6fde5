// Package conversation implements the scripted call state machine.
//
// The driver keeps no state between invocations. Each speech webhook carries
// the position of the question being answered, and each turn hands back the
// next position for the caller to encode in its callback URL.
//
// Turn-taking rule: the position names the question the caller is currently
// answering. The greeting turn asks topic 0; a recognized answer at position p
// asks topic p+1, or finishes the call when p+1 reaches the end of the script.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yegors/co-call/internal/reply"
	"github.com/yegors/co-call/internal/script"
	"github.com/yegors/co-call/pkg/logger"
)

// Driver decides the next turn of a scripted call
type Driver struct {
	script    *script.Script
	generator reply.Generator
	recorder  Recorder
	logger    *logger.Logger
}

// NewDriver creates a driver. recorder may be nil.
func NewDriver(s *script.Script, generator reply.Generator, recorder Recorder, log *logger.Logger) *Driver {
	return &Driver{
		script:    s,
		generator: generator,
		recorder:  recorder,
		logger:    log.Named("conversation"),
	}
}

// Script returns the script the driver walks through
func (d *Driver) Script() *script.Script {
	return d.script
}

// Connected handles the call-connected event: greet, then ask topic 0
func (d *Driver) Connected(ctx context.Context, callSID string) Turn {
	log := d.logger.WithCallSID(callSID)

	if d.script.Len() == 0 {
		log.Warn("Script has no topics, closing immediately")
		return d.finish(callSID, d.script.Greeting())
	}

	question, degraded := d.ask(ctx, callSID, 0, nil)
	log.Info("Call connected, asking first topic", logger.Bool("degraded", degraded))

	return Turn{
		State:      StateAwaitingResponse,
		Utterances: []string{d.script.Greeting(), question},
		Position:   0,
		Listen:     true,
		Degraded:   degraded,
	}
}

// SpeechRecognized handles a speech-recognition result for the question at
// position. An empty result re-prompts the same position.
func (d *Driver) SpeechRecognized(ctx context.Context, callSID string, position int, speech string) (Turn, error) {
	if position < 0 {
		return Turn{}, fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}

	log := d.logger.WithCallSID(callSID).With(logger.Int("position", position))
	speech = strings.TrimSpace(speech)

	if position >= d.script.Len() {
		if position > d.script.Len() {
			log.Warn("Position beyond end of script, finishing", logger.Int("script_len", d.script.Len()))
		}
		return d.finish(callSID), nil
	}

	topic, _ := d.script.Topic(position)

	if speech == "" {
		log.Info("No speech recognized, re-prompting")
		return Turn{
			State:      StateAwaitingResponse,
			Utterances: []string{d.script.Reprompt(), topic},
			Position:   position,
			Listen:     true,
			Reprompt:   true,
		}, nil
	}

	answer := &Answer{CallSID: callSID, Position: position, Topic: topic, Text: speech}
	log.Info("Answer recorded", logger.String("topic", topic), logger.String("answer", speech))
	if d.recorder != nil {
		d.recorder.Record(*answer)
	}

	next := position + 1
	if next >= d.script.Len() {
		turn := d.finish(callSID)
		turn.Answer = answer
		return turn, nil
	}

	question, degraded := d.ask(ctx, callSID, next, []reply.Exchange{{Question: topic, Answer: speech}})
	return Turn{
		State:      StateAwaitingResponse,
		Utterances: []string{question},
		Position:   next,
		Listen:     true,
		Degraded:   degraded,
		Answer:     answer,
	}, nil
}

// ask generates the spoken question for the topic at position. On failure it
// returns the fallback line followed by the raw topic.
func (d *Driver) ask(ctx context.Context, callSID string, position int, history []reply.Exchange) (string, bool) {
	topic, _ := d.script.Topic(position)

	text, err := d.generator.Generate(ctx, reply.Request{
		Instruction: d.script.Instruction(),
		Prompt:      topic,
		History:     history,
	})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), false
	}
	if err == nil {
		err = errors.New("generator returned an empty utterance")
	}

	fields := []logger.Field{logger.Int("position", position), logger.Error(err)}
	var genErr *reply.GenerationError
	if errors.As(err, &genErr) {
		fields = append(fields, logger.Int("status_code", genErr.StatusCode))
	}
	d.logger.WithCallSID(callSID).Warn("Reply generation failed, using fallback", fields...)

	return d.script.Fallback() + " " + topic, true
}

// finish speaks the closing line (after any leading utterances) and hangs up
func (d *Driver) finish(callSID string, leading ...string) Turn {
	d.logger.WithCallSID(callSID).Info("Conversation finished")

	utterances := append(leading, d.script.Closing())
	return Turn{
		State:      StateFinished,
		Utterances: utterances,
		Position:   d.script.Len(),
		Hangup:     true,
	}
}
