package transcription

import "github.com/yegors/co-call/internal/conversation"

// ProcessorInterface defines the lifecycle of background workers
type ProcessorInterface interface {
	Start() error
	Stop() error
}

var (
	_ ProcessorInterface    = (*Recorder)(nil)
	_ conversation.Recorder = (*Recorder)(nil)
)
