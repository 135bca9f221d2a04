// Package journal records program runs in a SQL database.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/sasm/vm"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("sasm.journal")

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

// Supported database/sql driver names.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// Run is one recorded execution.
type Run struct {
	ID           string
	SourceDigest string // hex SHA-256 of the assembled source
	Entry        string
	ExitCode     int
	Stack        []vm.Value // operand stack at halt
	Steps        int64
	Err          string // empty for a successful run
	Started      time.Time
	Duration     time.Duration
}

// Digest returns the source digest stored with a run.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Store is a run journal. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (creating if needed) a journal with the given driver and DSN.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverDuckDB:
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if driver == DriverSQLite {
		// Set busy timeout for concurrent access
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source_digest TEXT NOT NULL,
		entry TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		stack BLOB,
		steps BIGINT NOT NULL,
		error TEXT NOT NULL,
		started_ns BIGINT NOT NULL,
		duration_ns BIGINT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("journal open: %s %s", driver, dsn)
	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run, assigning it an ID if it has none.
func (s *Store) Record(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	stack, err := EncodeStack(r.Stack)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_digest, entry, exit_code, stack, steps, error, started_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceDigest, r.Entry, r.ExitCode, stack, r.Steps, r.Err,
		r.Started.UnixNano(), int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	log.Debugf("recorded run %s exit=%d", r.ID, r.ExitCode)
	return nil
}

// Get retrieves one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+" ORDER BY started_ns DESC, id LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const selectRuns = `SELECT id, source_digest, entry, exit_code, stack, steps, error, started_ns, duration_ns FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r         Run
		stack     []byte
		started   int64
		durations int64
	)
	err := sc.Scan(&r.ID, &r.SourceDigest, &r.Entry, &r.ExitCode, &stack, &r.Steps, &r.Err, &started, &durations)
	if err != nil {
		return nil, err
	}
	r.Started = time.Unix(0, started)
	r.Duration = time.Duration(durations)
	if r.Stack, err = DecodeStack(stack); err != nil {
		return nil, err
	}
	return &r, nil
}
