package transcription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/co-call/internal/conversation"
	"github.com/yegors/co-call/internal/storage/sqlite"
	ws "github.com/yegors/co-call/internal/websocket"
	"github.com/yegors/co-call/pkg/logger"
)

const defaultQueueSize = 256

// AnswerStore persists answer records
type AnswerStore interface {
	StoreAnswer(record *sqlite.AnswerRecord) (int64, error)
}

// Recorder writes answers to the journal on a background worker so webhook
// handlers never wait on the database
type Recorder struct {
	ctx         context.Context
	cancel      context.CancelFunc
	store       AnswerStore
	broadcaster Broadcaster
	queue       chan conversation.Answer
	logger      *logger.Logger
	wg          sync.WaitGroup
	dropped     atomic.Int64
	now         func() time.Time
}

// NewRecorder creates a recorder. broadcaster may be nil.
func NewRecorder(
	ctx context.Context,
	store AnswerStore,
	broadcaster Broadcaster,
	config RecorderConfig,
	log *logger.Logger,
) *Recorder {
	recCtx, recCancel := context.WithCancel(ctx)

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Recorder{
		ctx:         recCtx,
		cancel:      recCancel,
		store:       store,
		broadcaster: broadcaster,
		queue:       make(chan conversation.Answer, queueSize),
		logger:      log.Named("answer-recorder"),
		now:         time.Now,
	}
}

// Start starts the journal worker
func (r *Recorder) Start() error {
	r.logger.Info("Starting answer recorder", logger.Int("queue_size", cap(r.queue)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				r.drain()
				r.logger.Info("Answer recorder stopped", logger.Int64("dropped", r.dropped.Load()))
				return
			case answer := <-r.queue:
				r.persist(answer)
			}
		}
	}()
	return nil
}

// Stop stops the worker after flushing queued answers
func (r *Recorder) Stop() error {
	r.logger.Info("Stopping answer recorder")
	r.cancel()
	r.wg.Wait()
	return nil
}

// Record queues an answer. A full queue or a stopped recorder drops it.
func (r *Recorder) Record(answer conversation.Answer) {
	if r.ctx.Err() != nil {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- answer:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Answer queue full, dropping answer",
			logger.String("call_sid", answer.CallSID),
			logger.Int("position", answer.Position))
	}
}

// Dropped returns the number of answers that were not journaled
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) drain() {
	for {
		select {
		case answer := <-r.queue:
			r.persist(answer)
		default:
			return
		}
	}
}

func (r *Recorder) persist(answer conversation.Answer) {
	record := &sqlite.AnswerRecord{
		CallSID:   answer.CallSID,
		Position:  answer.Position,
		Topic:     answer.Topic,
		Answer:    answer.Text,
		CreatedAt: r.now().UTC(),
	}

	id, err := r.store.StoreAnswer(record)
	if err != nil {
		r.logger.Error("Failed to store answer",
			logger.String("call_sid", answer.CallSID),
			logger.Int("position", answer.Position),
			logger.Error(err))
		return
	}
	record.ID = id

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(&ws.Message{
			Type: ws.TypeAnswerRecorded,
			Data: map[string]interface{}{
				"id":        record.ID,
				"call_sid":  record.CallSID,
				"position":  record.Position,
				"topic":     record.Topic,
				"answer":    record.Answer,
				"timestamp": record.CreatedAt,
			},
		})
	}
}
