package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/pithecene-io/packetline/types"
)

// frameColumns are the frames table columns in insert order. They match
// the keys of types.Record.Fields.
var frameColumns = []string{
	"packet_id",
	"port",
	"captured_at",
	"protocol",
	"size",
	"frame_type",
	"length",
	"flags",
	"stream_id",
	"version",
	"long_header",
	"fin",
	"masked",
	"payload_hex",
}

const createFramesTable = `CREATE TABLE IF NOT EXISTS frames (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	packet_id   TEXT    NOT NULL,
	port        INTEGER NOT NULL,
	captured_at TEXT    NOT NULL,
	protocol    TEXT    NOT NULL,
	size        INTEGER NOT NULL,
	frame_type  TEXT,
	length      INTEGER,
	flags       INTEGER,
	stream_id   INTEGER,
	version     INTEGER,
	long_header INTEGER,
	fin         INTEGER,
	masked      INTEGER,
	payload_hex TEXT
)`

const createFramesIndex = `CREATE INDEX IF NOT EXISTS frames_protocol ON frames (protocol)`

var insertFrame = fmt.Sprintf(
	"INSERT INTO frames (%s) VALUES (%s)",
	strings.Join(frameColumns, ", "),
	strings.TrimSuffix(strings.Repeat("?, ", len(frameColumns)), ", "),
)

// SQLite stores records as rows of a frames table.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path with WAL journal mode
// and a 5-second busy timeout, and ensures the frames table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("open sqlite: %w", err), path)
	}
	// One connection keeps the connection-scoped pragmas in effect for
	// every statement and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		createFramesTable,
		createFramesIndex,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, WrapInitError(fmt.Errorf("exec %q: %w", firstLine(stmt), err), path)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, WrapInitError(fmt.Errorf("ping sqlite: %w", err), path)
	}

	return &SQLite{db: db, path: path}, nil
}

// Write implements Sink. The batch is inserted in one transaction.
func (s *SQLite) Write(ctx context.Context, records []types.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapWriteError(err, s.path)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertFrame)
	if err != nil {
		return WrapWriteError(err, s.path)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(frameColumns))
	for _, r := range records {
		row := r.Fields()
		for i, col := range frameColumns {
			args[i] = row[col]
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return WrapWriteError(fmt.Errorf("insert %s: %w", r.PacketID, err), s.path)
		}
	}

	if err = tx.Commit(); err != nil {
		return WrapWriteError(err, s.path)
	}
	return nil
}

// Count returns the number of stored frames.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM frames").Scan(&n); err != nil {
		return 0, WrapQueryError(err, s.path)
	}
	return n, nil
}

// CountByProtocol returns stored frame counts keyed by protocol name.
func (s *SQLite) CountByProtocol(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT protocol, COUNT(*) FROM frames GROUP BY protocol")
	if err != nil {
		return nil, WrapQueryError(err, s.path)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var proto string
		var n int
		if err := rows.Scan(&proto, &n); err != nil {
			return nil, WrapQueryError(err, s.path)
		}
		counts[proto] = n
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError(err, s.path)
	}
	return counts, nil
}

// Close implements Sink.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Verify SQLite implements Sink.
var _ Sink = (*SQLite)(nil)
