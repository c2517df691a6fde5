package sqlite

import "time"

// AnswerRecord is one prompt/answer pairing captured during a call
type AnswerRecord struct {
	ID        int64     `json:"id"`
	CallSID   string    `json:"call_sid"`
	Position  int       `json:"position"`
	Topic     string    `json:"topic"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}
