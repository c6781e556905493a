package session

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// ChangeSource reports the files that differ between two revisions
type ChangeSource interface {
	FilesChanged(ctx context.Context, from, to string) ([]string, error)
}

// Measurement is an externally observed test and coverage signal at one
// checkpoint. Nil fields were not observed.
type Measurement struct {
	// Tests is the number of passing tests
	Tests *int
	// Coverage is statement coverage in percent
	Coverage *float64
}

// Signals holds the measurements taken at the two checkpoints being compared
type Signals struct {
	Before Measurement
	After  Measurement
}

// Comparison is the difference between two checkpoints
type Comparison struct {
	From         Entry
	To           Entry
	FilesChanged []string
	// TestDelta and CoverageDelta are nil unless both sides were measured
	TestDelta     *int
	CoverageDelta *float64
}

// Diff compares two checkpoints of the log. It only reads: file changes come
// from changes (which may be nil) and the deltas from signals.
func (s *Store) Diff(ctx context.Context, a, b string, changes ChangeSource, signals Signals) (*Comparison, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return compare(ctx, entries, a, b, changes, signals)
}

func compare(ctx context.Context, entries []Entry, a, b string, changes ChangeSource, signals Signals) (*Comparison, error) {
	from, _, err := find(entries, a)
	if err != nil {
		return nil, err
	}
	to, _, err := find(entries, b)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{From: from, To: to, FilesChanged: []string{}}

	if changes != nil && from.Revision != to.Revision {
		if from.Revision == "" || to.Revision == "" {
			return nil, errors.Errorf("cannot compare files: checkpoint %q or %q has no revision", from.Name, to.Name)
		}
		files, err := changes.FilesChanged(ctx, from.Revision, to.Revision)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list changed files")
		}
		cmp.FilesChanged = dedupe(files)
	}

	if before, after := signals.Before.Tests, signals.After.Tests; before != nil && after != nil {
		delta := *after - *before
		cmp.TestDelta = &delta
	}
	if before, after := signals.Before.Coverage, signals.After.Coverage; before != nil && after != nil {
		delta := *after - *before
		cmp.CoverageDelta = &delta
	}

	return cmp, nil
}

func dedupe(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
