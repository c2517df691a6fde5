package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/co-call/pkg/logger"
)

// AnswerStorage handles storage of answer records
type AnswerStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewAnswerStorage creates the answer storage and its tables
func NewAnswerStorage(db *sql.DB, log *logger.Logger) (*AnswerStorage, error) {
	storage := &AnswerStorage{
		db:     db,
		logger: log.Named("sqlite-answers"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize answer storage", logger.Error(err))
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *AnswerStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS answers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_sid TEXT NOT NULL,
			position INTEGER NOT NULL,
			topic TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create answers table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_answers_call_sid ON answers(call_sid)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_created_at ON answers(created_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create answer index: %w", err)
		}
	}

	return nil
}

// StoreAnswer stores an answer record and returns its ID
func (s *AnswerStorage) StoreAnswer(record *AnswerRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(
		`INSERT INTO answers
		(call_sid, position, topic, answer, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.CallSID,
		record.Position,
		record.Topic,
		record.Answer,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert answer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetAnswersByCall returns the answers of one call in the order they were given
func (s *AnswerStorage) GetAnswersByCall(callSID string) ([]*AnswerRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, call_sid, position, topic, answer, created_at
		FROM answers
		WHERE call_sid = ?
		ORDER BY id ASC`,
		callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers by call: %w", err)
	}
	defer rows.Close()

	return s.scanAnswerRows(rows)
}

// GetRecentAnswers returns the most recent answers across all calls
func (s *AnswerStorage) GetRecentAnswers(limit int) ([]*AnswerRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, call_sid, position, topic, answer, created_at
		FROM answers
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent answers: %w", err)
	}
	defer rows.Close()

	return s.scanAnswerRows(rows)
}

// scanAnswerRows scans database rows into AnswerRecord structs
func (s *AnswerStorage) scanAnswerRows(rows *sql.Rows) ([]*AnswerRecord, error) {
	records := []*AnswerRecord{}
	for rows.Next() {
		var record AnswerRecord
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.CallSID,
			&record.Position,
			&record.Topic,
			&record.Answer,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}
