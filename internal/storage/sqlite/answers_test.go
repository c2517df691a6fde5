package sqlite

import (
	"testing"
	"time"

	"github.com/yegors/co-call/pkg/logger"
)

func newTestStorage(t *testing.T) *AnswerStorage {
	t.Helper()
	db, err := Open(":memory:", logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewAnswerStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return storage
}

func TestStoreAndGetAnswersByCall(t *testing.T) {
	s := newTestStorage(t)

	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	records := []*AnswerRecord{
		{CallSID: "CA1", Position: 0, Topic: "name?", Answer: "Ada", CreatedAt: at},
		{CallSID: "CA2", Position: 0, Topic: "name?", Answer: "Grace", CreatedAt: at},
		{CallSID: "CA1", Position: 1, Topic: "dob?", Answer: "March 3rd", CreatedAt: at.Add(time.Second)},
	}
	for _, r := range records {
		id, err := s.StoreAnswer(r)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if id == 0 {
			t.Fatal("expected non-zero id")
		}
	}

	got, err := s.GetAnswersByCall("CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d answers, want 2", len(got))
	}
	if got[0].Answer != "Ada" || got[1].Answer != "March 3rd" || got[1].Position != 1 {
		t.Fatalf("unexpected answers %+v %+v", got[0], got[1])
	}
	if !got[1].CreatedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("created_at = %v", got[1].CreatedAt)
	}
}

func TestGetAnswersByCall_UnknownCallIsEmpty(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.GetAnswersByCall("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestGetRecentAnswers(t *testing.T) {
	s := newTestStorage(t)

	for i, answer := range []string{"one", "two", "three"} {
		if _, err := s.StoreAnswer(&AnswerRecord{CallSID: "CA1", Position: i, Topic: "t", Answer: answer}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	got, err := s.GetRecentAnswers(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Answer != "three" || got[1].Answer != "two" {
		t.Fatalf("unexpected recent answers %+v", got)
	}
}
