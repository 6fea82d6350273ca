package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQL drivers for the supported sink databases.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/authrelay/authrelay/internal/logging"
)

// driverMap translates sink type names to database/sql driver names.
var driverMap = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

const insertSQL = `INSERT INTO auth_events (occurred_at, client_id, event_type, outcome, source_address, request_id, degraded, detail) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
const insertSQLMySQL = `INSERT INTO auth_events (occurred_at, client_id, event_type, outcome, source_address, request_id, degraded, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// SQLSink writes events to a relational auth_events table. The table
// schema is owned by operations; the sink only inserts.
type SQLSink struct {
	db        *sql.DB
	insert    string
	logger    *logging.Logger
	timeout   time.Duration
	closeFunc func() error
}

// NewSQLSink opens a sink for the given database type ("postgres",
// "mysql", and their aliases) and DSN.
func NewSQLSink(dbType, dsn string, logger *logging.Logger) (*SQLSink, error) {
	driver, ok := driverMap[dbType]
	if !ok {
		return nil, fmt.Errorf("unsupported event sink database type: %s", dbType)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening event sink: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newSQLSink(db, driver, logger), nil
}

// newSQLSink wires a sink around an existing handle. Used by tests with
// sqlmock.
func newSQLSink(db *sql.DB, driver string, logger *logging.Logger) *SQLSink {
	insert := insertSQL
	if driver == "mysql" {
		insert = insertSQLMySQL
	}
	return &SQLSink{
		db:        db,
		insert:    insert,
		logger:    logger.WithComponent("events.sql"),
		timeout:   3 * time.Second,
		closeFunc: db.Close,
	}
}

// Record implements Recorder.
func (s *SQLSink) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.insert,
		event.Timestamp, event.ClientID, string(event.Type), event.Outcome,
		event.SourceAddress, event.RequestID, event.Degraded, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", event.Type, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLSink) Close() error {
	return s.closeFunc()
}
