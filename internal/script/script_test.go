package script

import "testing"

func TestNew_AppliesDefaults(t *testing.T) {
	s, err := New(Config{Topics: []string{" What is your date of birth? "}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Instruction() != DefaultInstruction {
		t.Errorf("instruction = %q", s.Instruction())
	}
	if s.Greeting() != DefaultGreeting || s.Closing() != DefaultClosing {
		t.Errorf("greeting/closing defaults not applied")
	}
	if s.Reprompt() != DefaultReprompt || s.Fallback() != DefaultFallback {
		t.Errorf("reprompt/fallback defaults not applied")
	}

	topic, ok := s.Topic(0)
	if !ok || topic != "What is your date of birth?" {
		t.Fatalf("Topic(0) = %q, %v", topic, ok)
	}
}

func TestNew_RejectsBlankTopic(t *testing.T) {
	if _, err := New(Config{Topics: []string{"ok", "  "}}); err == nil {
		t.Fatal("expected error for blank topic")
	}
}

func TestTopic_OutOfRange(t *testing.T) {
	s, _ := New(Config{Topics: []string{"a", "b"}})

	for _, i := range []int{-1, 2, 10} {
		if _, ok := s.Topic(i); ok {
			t.Fatalf("Topic(%d) should be out of range", i)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestTopics_ReturnsCopy(t *testing.T) {
	s, _ := New(Config{Topics: []string{"a"}})
	topics := s.Topics()
	topics[0] = "changed"

	if got, _ := s.Topic(0); got != "a" {
		t.Fatalf("script was mutated through Topics(): %q", got)
	}
}
