// Package sqlite stores the answer journal in a SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/yegors/co-call/pkg/logger"
	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the journal in memory for the lifetime of the process
const DefaultDSN = "file:answers?mode=memory&cache=shared"

// Open opens the database. A single connection is used so that in-memory
// databases are shared by every query and writes never contend.
func Open(dsn string, log *logger.Logger) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	log.Named("sqlite").Info("Opened database", logger.String("dsn", dsn))
	return db, nil
}
