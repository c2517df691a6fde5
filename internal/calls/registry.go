// Package calls holds the in-memory registry of call records shared by the
// webhook path and the realtime event path.
package calls

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry maps call SIDs to call records for the lifetime of the process.
//
// All operations are bounded read-modify-writes under a single RWMutex. Readers
// always receive copies, so a Snapshot never observes a partial update.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*record
	now   func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[string]*record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new record with status initiated and an empty transcript.
// An existing call SID is rejected with ErrCallExists and left untouched.
func (r *Registry) Create(callSID string) error {
	if callSID == "" {
		return fmt.Errorf("call SID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callSID]; exists {
		return fmt.Errorf("%w: %s", ErrCallExists, callSID)
	}

	now := r.now()
	r.calls[callSID] = &record{
		callSID:    callSID,
		status:     StatusInitiated,
		transcript: []string{},
		createdAt:  now,
		updatedAt:  now,
	}
	return nil
}

// UpdateStatus overwrites the status of an existing call. No transition is rejected.
func (r *Registry) UpdateStatus(callSID string, status Status) error {
	return r.mutate(callSID, func(rec *record) {
		rec.status = status
	})
}

// AppendTranscript appends text to the call's transcript in arrival order
func (r *Registry) AppendTranscript(callSID, text string) error {
	return r.mutate(callSID, func(rec *record) {
		rec.transcript = append(rec.transcript, text)
	})
}

// SetStream records the most recent realtime stream SID seen for the call
func (r *Registry) SetStream(callSID, streamSID string) error {
	return r.mutate(callSID, func(rec *record) {
		rec.streamSID = streamSID
	})
}

// Get returns a snapshot of the call, or ErrCallNotFound with a zero Snapshot
func (r *Registry) Get(callSID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.calls[callSID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCallNotFound, callSID)
	}
	return rec.snapshot(), nil
}

// Exists reports whether the call SID is registered
func (r *Registry) Exists(callSID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.calls[callSID]
	return ok
}

// List returns snapshots of every call, oldest first
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	snapshots := make([]Snapshot, 0, len(r.calls))
	for _, rec := range r.calls {
		snapshots = append(snapshots, rec.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CallSID < snapshots[j].CallSID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Len returns the number of registered calls
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

func (r *Registry) mutate(callSID string, fn func(*record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.calls[callSID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callSID)
	}
	fn(rec)
	rec.updatedAt = r.now()
	return nil
}
