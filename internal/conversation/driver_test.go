package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yegors/co-call/internal/reply"
	"github.com/yegors/co-call/internal/script"
	"github.com/yegors/co-call/pkg/logger"
)

// fakeGenerator returns "Q:<prompt>" unless fail is set
type fakeGenerator struct {
	mu       sync.Mutex
	fail     bool
	requests []reply.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req reply.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.fail {
		return "", &reply.GenerationError{StatusCode: 500, Err: errors.New("boom")}
	}
	return "Q:" + req.Prompt, nil
}

type memRecorder struct {
	answers []Answer
}

func (r *memRecorder) Record(a Answer) { r.answers = append(r.answers, a) }

func newDriver(t *testing.T, topics []string, gen reply.Generator, rec Recorder) *Driver {
	t.Helper()
	s, err := script.New(script.Config{Topics: topics})
	if err != nil {
		t.Fatalf("script.New: %v", err)
	}
	return NewDriver(s, gen, rec, logger.NewNop())
}

func assertSpeakable(t *testing.T, turn Turn) {
	t.Helper()
	if len(turn.Utterances) == 0 {
		t.Fatal("turn has no utterances")
	}
	for i, u := range turn.Utterances {
		if strings.TrimSpace(u) == "" {
			t.Fatalf("utterance %d is blank", i)
		}
	}
}

func TestConnected_GreetsAndAsksFirstTopic(t *testing.T) {
	gen := &fakeGenerator{}
	d := newDriver(t, []string{"name?", "dob?"}, gen, nil)

	turn := d.Connected(context.Background(), "CA1")

	assertSpeakable(t, turn)
	if turn.State != StateAwaitingResponse || !turn.Listen || turn.Hangup {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if turn.Position != 0 {
		t.Fatalf("position = %d, want 0", turn.Position)
	}
	if turn.Utterances[0] != script.DefaultGreeting || turn.Utterances[1] != "Q:name?" {
		t.Fatalf("utterances = %q", turn.Utterances)
	}
	if len(gen.requests) != 1 || len(gen.requests[0].History) != 0 {
		t.Fatalf("expected one history-less request, got %+v", gen.requests)
	}
	if gen.requests[0].Instruction != script.DefaultInstruction {
		t.Fatalf("instruction not passed through")
	}
}

func TestConnected_EmptyScriptCloses(t *testing.T) {
	gen := &fakeGenerator{}
	d := newDriver(t, nil, gen, nil)

	turn := d.Connected(context.Background(), "CA1")

	if turn.State != StateFinished || !turn.Hangup || turn.Listen {
		t.Fatalf("unexpected turn %+v", turn)
	}
	want := []string{script.DefaultGreeting, script.DefaultClosing}
	if strings.Join(turn.Utterances, "|") != strings.Join(want, "|") {
		t.Fatalf("utterances = %q", turn.Utterances)
	}
	if len(gen.requests) != 0 {
		t.Fatal("generator should not be called for an empty script")
	}
}

func TestSpeechRecognized_TwoTopicScenario(t *testing.T) {
	gen := &fakeGenerator{}
	rec := &memRecorder{}
	d := newDriver(t, []string{"name?", "dob?"}, gen, rec)
	ctx := context.Background()

	first := d.Connected(ctx, "CA1")

	second, err := d.SpeechRecognized(ctx, "CA1", first.Position, "Ada Lovelace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSpeakable(t, second)
	if second.State != StateAwaitingResponse || second.Position != 1 {
		t.Fatalf("unexpected second turn %+v", second)
	}
	if second.Text() != "Q:dob?" {
		t.Fatalf("second utterance = %q", second.Text())
	}
	last := gen.requests[len(gen.requests)-1]
	if len(last.History) != 1 || last.History[0] != (reply.Exchange{Question: "name?", Answer: "Ada Lovelace"}) {
		t.Fatalf("history = %+v", last.History)
	}

	third, err := d.SpeechRecognized(ctx, "CA1", second.Position, "December 10th")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.State != StateFinished || !third.Hangup || third.Listen {
		t.Fatalf("unexpected final turn %+v", third)
	}
	if third.Text() != script.DefaultClosing {
		t.Fatalf("final utterance = %q", third.Text())
	}

	if len(rec.answers) != 2 {
		t.Fatalf("recorded %d answers, want 2", len(rec.answers))
	}
	if rec.answers[1] != (Answer{CallSID: "CA1", Position: 1, Topic: "dob?", Text: "December 10th"}) {
		t.Fatalf("second answer = %+v", rec.answers[1])
	}
}

func TestSpeechRecognized_ReachesFinishedAfterNAnswers(t *testing.T) {
	topics := []string{"a", "b", "c", "d", "e"}
	d := newDriver(t, topics, &fakeGenerator{}, nil)
	ctx := context.Background()

	turn := d.Connected(ctx, "CA1")
	for i := 0; i < len(topics); i++ {
		if turn.State == StateFinished {
			t.Fatalf("finished early after %d answers", i)
		}
		var err error
		turn, err = d.SpeechRecognized(ctx, "CA1", turn.Position, "answer")
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		assertSpeakable(t, turn)
	}
	if turn.State != StateFinished {
		t.Fatalf("state = %s after %d answers", turn.State, len(topics))
	}
}

func TestSpeechRecognized_EmptySpeechReprompts(t *testing.T) {
	gen := &fakeGenerator{}
	rec := &memRecorder{}
	d := newDriver(t, []string{"name?", "dob?"}, gen, rec)

	turn, err := d.SpeechRecognized(context.Background(), "CA1", 1, "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !turn.Reprompt || turn.Position != 1 || !turn.Listen {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if turn.Text() != script.DefaultReprompt+" dob?" {
		t.Fatalf("utterance = %q", turn.Text())
	}
	if len(gen.requests) != 0 || len(rec.answers) != 0 {
		t.Fatal("re-prompt must not generate or record")
	}
}

func TestSpeechRecognized_GenerationFailureFallsBack(t *testing.T) {
	gen := &fakeGenerator{fail: true}
	d := newDriver(t, []string{"name?", "dob?"}, gen, nil)
	ctx := context.Background()

	first := d.Connected(ctx, "CA1")
	if !first.Degraded || !first.Listen {
		t.Fatalf("unexpected first turn %+v", first)
	}
	if first.Utterances[1] != script.DefaultFallback+" name?" {
		t.Fatalf("fallback utterance = %q", first.Utterances[1])
	}

	second, err := d.SpeechRecognized(ctx, "CA1", 0, "Ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Degraded || second.State != StateAwaitingResponse || second.Position != 1 {
		t.Fatalf("unexpected second turn %+v", second)
	}
	assertSpeakable(t, second)
}

func TestSpeechRecognized_PositionBounds(t *testing.T) {
	d := newDriver(t, []string{"a", "b"}, &fakeGenerator{}, nil)
	ctx := context.Background()

	if _, err := d.SpeechRecognized(ctx, "CA1", -1, "x"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}

	for _, pos := range []int{2, 7} {
		turn, err := d.SpeechRecognized(ctx, "CA1", pos, "x")
		if err != nil {
			t.Fatalf("position %d: %v", pos, err)
		}
		if turn.State != StateFinished || turn.Position != 2 || turn.Answer != nil {
			t.Fatalf("position %d: unexpected turn %+v", pos, turn)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateFinished.String() != "finished" || State(42).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
