// Package audit stores dispatch decisions in the hookgate storage database so
// operators can review what was blocked, by which rule, and why.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jingkaihe/hookgate/pkg/db"
	"github.com/jingkaihe/hookgate/pkg/db/migrations"
	"github.com/jingkaihe/hookgate/pkg/dispatch"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// DefaultListLimit is the number of decisions List returns when no limit is
// given
const DefaultListLimit = 20

// dbDecision is a row of the dispatch_decisions table
type dbDecision struct {
	ID          string    `db:"id"`
	Event       string    `db:"event"`
	Tool        string    `db:"tool"`
	SessionID   string    `db:"session_id"`
	Outcome     string    `db:"outcome"`
	Reason      string    `db:"reason"`
	Rule        string    `db:"rule"`
	HookCommand string    `db:"hook_command"`
	Integrity   bool      `db:"integrity"`
	HooksRun    int       `db:"hooks_run"`
	DurationMS  int64     `db:"duration_ms"`
	CreatedAt   time.Time `db:"created_at"`
}

func fromRecord(rec dispatch.Record) dbDecision {
	return dbDecision{
		ID:          rec.ID,
		Event:       string(rec.Event),
		Tool:        rec.Tool,
		SessionID:   rec.SessionID,
		Outcome:     string(rec.Outcome),
		Reason:      rec.Reason,
		Rule:        rec.Rule,
		HookCommand: rec.Hook,
		Integrity:   rec.Integrity,
		HooksRun:    rec.HooksRun,
		DurationMS:  rec.Duration.Milliseconds(),
		CreatedAt:   rec.CreatedAt.UTC(),
	}
}

func (d dbDecision) toRecord() dispatch.Record {
	return dispatch.Record{
		ID:        d.ID,
		Event:     hooks.EventType(d.Event),
		Tool:      d.Tool,
		SessionID: d.SessionID,
		Outcome:   hooks.Outcome(d.Outcome),
		Reason:    d.Reason,
		Rule:      d.Rule,
		Hook:      d.HookCommand,
		Integrity: d.Integrity,
		HooksRun:  d.HooksRun,
		Duration:  time.Duration(d.DurationMS) * time.Millisecond,
		CreatedAt: d.CreatedAt,
	}
}

// Store persists dispatch records. It implements dispatch.Recorder.
type Store struct {
	db *sqlx.DB
}

var _ dispatch.Recorder = (*Store)(nil)

// Open opens the audit store at dbPath, applying pending migrations
func Open(ctx context.Context, dbPath string) (*Store, error) {
	sqlDB, err := db.OpenAndMigrate(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audit store")
	}
	return &Store{db: sqlDB}, nil
}

// OpenDefault opens the audit store in the default storage database
func OpenDefault(ctx context.Context) (*Store, error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return Open(ctx, dbPath)
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements dispatch.Recorder
func (s *Store) Record(ctx context.Context, rec dispatch.Record) error {
	if rec.ID == "" {
		return errors.New("dispatch record has no id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO dispatch_decisions (
			id, event, tool, session_id, outcome, reason, rule, hook_command,
			integrity, hooks_run, duration_ms, created_at
		) VALUES (
			:id, :event, :tool, :session_id, :outcome, :reason, :rule, :hook_command,
			:integrity, :hooks_run, :duration_ms, :created_at
		)`, fromRecord(rec))
	return errors.Wrap(err, "failed to record dispatch decision")
}

// ListOptions filters List results
type ListOptions struct {
	Limit     int
	Outcome   hooks.Outcome
	SessionID string
}

// List returns the most recent decisions first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]dispatch.Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(opts.Outcome))
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}

	query := "SELECT * FROM dispatch_decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	var rows []dbDecision
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list dispatch decisions")
	}

	records := make([]dispatch.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}
