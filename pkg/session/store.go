// Package session implements the session lifecycle store: an append-only
// log of named checkpoints that hooks write at session start, end and
// compaction, and that can be compared after the fact.
//
// The log is line oriented, one entry per line:
//
//	2026-01-02T15:04:05.123456789Z | before-refactor | 3f2c1e0
//
// The format is the only durable record across process restarts and must
// stay stable.
package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// DefaultLogFile is the log location relative to a project directory
var DefaultLogFile = filepath.Join(".hookgate", "checkpoints.log")

const separator = " | "

// Entry is one checkpoint. Entries are never modified once written.
type Entry struct {
	Timestamp time.Time
	Name      string
	Revision  string
}

// String formats the entry as a log line without the trailing newline
func (e Entry) String() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano) + separator + e.Name + separator + e.Revision
}

// Validate checks that the entry can be written as a single log line
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("checkpoint name is required")
	}
	if strings.ContainsAny(e.Name, "|\r\n") {
		return errors.Errorf("checkpoint name %q may not contain '|' or line breaks", e.Name)
	}
	if strings.ContainsAny(e.Revision, "|\r\n") {
		return errors.Errorf("revision %q may not contain '|' or line breaks", e.Revision)
	}
	return nil
}

// ParseEntry parses one log line
func ParseEntry(line string) (Entry, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), "|", 3)
	if len(parts) != 3 {
		return Entry{}, errors.Errorf("malformed checkpoint line %q", line)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(parts[0]))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "malformed checkpoint timestamp in %q", line)
	}
	name := strings.TrimSpace(parts[1])
	if name == "" {
		return Entry{}, errors.Errorf("checkpoint line %q has no name", line)
	}

	return Entry{Timestamp: ts, Name: name, Revision: strings.TrimSpace(parts[2])}, nil
}

// Store is the checkpoint log for one project. Appends are safe across
// processes: each entry is a single O_APPEND write made under an advisory
// file lock.
type Store struct {
	path string
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used to timestamp entries
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store backed by the log file at path
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the log file path
func (s *Store) Path() string {
	return s.path
}

// Append writes entry to the log, stamping it with the current time when it
// has no timestamp. It returns the entry as written.
func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	entry, err := s.prepare(entry)
	if err != nil {
		return Entry{}, err
	}

	f, err := s.openForAppend()
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	if err := writeEntry(f, entry); err != nil {
		return Entry{}, err
	}

	logger.G(ctx).WithField("checkpoint", entry.Name).WithField("revision", entry.Revision).Debug("checkpoint appended")
	return entry, nil
}

// AppendOnce appends entry unless the latest entry already has the same name
// and revision. It reports whether a line was written. Session start hooks
// from several plugins can all call it without duplicating the checkpoint.
func (s *Store) AppendOnce(ctx context.Context, entry Entry) (Entry, bool, error) {
	entry, err := s.prepare(entry)
	if err != nil {
		return Entry{}, false, err
	}

	f, err := s.openForAppend()
	if err != nil {
		return Entry{}, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "failed to read checkpoint log")
	}
	entries := parseEntries(ctx, data)
	if n := len(entries); n > 0 && entries[n-1].Name == entry.Name && entries[n-1].Revision == entry.Revision {
		logger.G(ctx).WithField("checkpoint", entry.Name).Debug("checkpoint already recorded")
		return entries[n-1], false, nil
	}

	if err := writeEntry(f, entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) prepare(entry Entry) (Entry, error) {
	entry.Name = strings.TrimSpace(entry.Name)
	entry.Revision = strings.TrimSpace(entry.Revision)
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return entry, nil
}

func (s *Store) openForAppend() (*lockedfile.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create checkpoint directory")
	}
	f, err := lockedfile.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint log")
	}
	return f, nil
}

func writeEntry(f *lockedfile.File, entry Entry) error {
	if _, err := f.Write([]byte(entry.String() + "\n")); err != nil {
		return errors.Wrap(err, "failed to append checkpoint")
	}
	return nil
}

// List returns every entry in append order. A missing log is an empty
// list. Malformed lines are skipped with a warning.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	data, err := lockedfile.Read(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, errors.Wrap(err, "failed to read checkpoint log")
	}
	return parseEntries(ctx, data), nil
}

func parseEntries(ctx context.Context, data []byte) []Entry {
	entries := []Entry{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseEntry(line)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("line", lineNo).Warn("skipping malformed checkpoint line")
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Find resolves a checkpoint reference: "#n" selects the nth entry
// (1-based), anything else is a name and selects its latest occurrence.
// The returned index is 0-based.
func (s *Store) Find(ctx context.Context, ref string) (Entry, int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, -1, err
	}
	return find(entries, ref)
}

func find(entries []Entry, ref string) (Entry, int, error) {
	if pos, ok := strings.CutPrefix(ref, "#"); ok {
		n, err := strconv.Atoi(pos)
		if err != nil || n < 1 || n > len(entries) {
			return Entry{}, -1, errors.Errorf("checkpoint %s out of range (log has %d entries)", ref, len(entries))
		}
		return entries[n-1], n - 1, nil
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Name == ref {
			return entries[i], i, nil
		}
	}
	return Entry{}, -1, errors.Errorf("checkpoint %q not found", ref)
}

// Format renders entries the way `checkpoint list` prints them
func Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "#%d\t%s\n", i+1, e)
	}
	return b.String()
}
