// Package audit implements the one-way append sink for audit records.
// The core never reads these records back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Kind is the closed set of audit record categories.
type Kind string

const (
	KindIntent              Kind = "intent"
	KindWorkflowTransition   Kind = "workflow_transition"
	KindCalendarUpdate       Kind = "calendar_update"
	KindOutboundCall         Kind = "outbound_call"
	KindCustomerResponse     Kind = "customer_response"
)

// Record is one audit record.
type Record struct {
	SessionID     string
	Kind          Kind
	TimestampUTC  time.Time
	Payload       map[string]any
}

// Store is the append-only sink. The core never reads records back;
// Append is the only operation a collaborator needs to implement.
type Store interface {
	Append(ctx context.Context, r Record) error
	io.Closer
}

// SQLStore is the default Store implementation, writing to any
// database/sql-compatible target named by AUDIT_DB_URI. No pack example
// exercises a specific audit/event-store client to ground a narrower
// driver choice on (see DESIGN.md); database/sql's own abstraction is a
// sufficient seam for a one-way append of an opaque JSON payload, and the
// default driver (github.com/mattn/go-sqlite3) gives local/dev
// deployments a working target out of the box.
type SQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLStore opens the audit database and ensures the records table
// exists.
func NewSQLStore(driverName, dataSourceName string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	timestamp_utc TEXT NOT NULL,
	payload TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db, logger: logger}, nil
}

// Append writes one AuditRecord. Failures are logged and returned; the
// caller decides whether an audit-write failure should affect the
// call. It never should — audit emission is fire-and-forget from the
// workflow's perspective.
func (s *SQLStore) Append(ctx context.Context, r Record) error {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", r.SessionID).Str("kind", string(r.Kind)).Msg("audit payload marshal failed")
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (session_id, kind, timestamp_utc, payload) VALUES (?, ?, ?, ?)`,
		r.SessionID, string(r.Kind), r.TimestampUTC.UTC().Format(time.RFC3339Nano), string(payloadJSON),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", r.SessionID).Str("kind", string(r.Kind)).Msg("audit append failed")
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
