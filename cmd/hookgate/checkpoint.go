package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/jingkaihe/hookgate/pkg/session"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Record and compare session checkpoints",
	Long: heredoc.Doc(`
		Checkpoints are named positions in a coding session, appended to
		.hookgate/checkpoints.log in the project. Hooks typically record one at
		session start, before compaction and at session end.
	`),
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func checkpointStore(cmd *cobra.Command) (*session.Store, string, error) {
	projectDir, err := getGlobalConfig().projectDir()
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(projectDir, session.DefaultLogFile)
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		path = file
	}
	return session.NewStore(path), projectDir, nil
}

// CheckpointCreateConfig holds configuration for checkpoint create
type CheckpointCreateConfig struct {
	Revision string
	Once     bool
}

// NewCheckpointCreateConfig creates a CheckpointCreateConfig with default values
func NewCheckpointCreateConfig() *CheckpointCreateConfig {
	return &CheckpointCreateConfig{}
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Append a checkpoint",
	Long: heredoc.Doc(`
		Append a checkpoint named NAME. The revision defaults to the HEAD commit
		of the project repository, and is left empty outside of a repository.

		With --once nothing is written when the latest checkpoint already has
		the same name and revision, so several session start hooks can record
		the same checkpoint safely.
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config := NewCheckpointCreateConfig()
		config.Revision, _ = cmd.Flags().GetString("revision")
		config.Once, _ = cmd.Flags().GetBool("once")

		store, projectDir, err := checkpointStore(cmd)
		if err != nil {
			return err
		}
		if config.Revision == "" {
			config.Revision = headRevision(ctx, projectDir)
		}

		entry := session.Entry{Name: args[0], Revision: config.Revision}
		if config.Once {
			written, ok, err := store.AppendOnce(ctx, entry)
			if err != nil {
				return err
			}
			if !ok {
				presenter.Info(fmt.Sprintf("Checkpoint %q already recorded at %s", written.Name, written.Timestamp.Format("2006-01-02 15:04:05")))
				return nil
			}
			presenter.Success(fmt.Sprintf("Checkpoint %s", written))
			return nil
		}

		written, err := store.Append(ctx, entry)
		if err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Checkpoint %s", written))
		return nil
	},
}

func headRevision(ctx context.Context, dir string) string {
	rev, err := session.HeadRevision(dir)
	if err != nil {
		logger.G(ctx).WithError(err).Debug("no revision for checkpoint")
		return ""
	}
	return rev
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, _, err := checkpointStore(cmd)
		if err != nil {
			return err
		}
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			presenter.Info("No checkpoints recorded")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), session.Format(entries))
		return nil
	},
}

var checkpointDiffCmd = &cobra.Command{
	Use:   "diff FROM TO",
	Short: "Compare two checkpoints",
	Long: heredoc.Doc(`
		Compare two checkpoints, given as names (latest occurrence) or as
		positions like #2. Files changed between their revisions are read from
		the project repository. Test and coverage deltas are computed from the
		measurements passed as flags.
	`),
	Example: heredoc.Doc(`
		hookgate checkpoint diff session-start session-end
		hookgate checkpoint diff '#1' '#3' --tests-a 40 --tests-b 43 --coverage-a 71.5 --coverage-b 70
	`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, projectDir, err := checkpointStore(cmd)
		if err != nil {
			return err
		}

		var changes session.ChangeSource
		if _, err := session.HeadRevision(projectDir); err == nil {
			changes = session.GitChangeSource{Dir: projectDir}
		}

		cmp, err := store.Diff(cmd.Context(), args[0], args[1], changes, signalsFromFlags(cmd))
		if err != nil {
			return err
		}
		writeComparison(cmd.OutOrStdout(), cmp)
		return nil
	},
}

func signalsFromFlags(cmd *cobra.Command) session.Signals {
	var signals session.Signals
	flags := cmd.Flags()
	if flags.Changed("tests-a") {
		n, _ := flags.GetInt("tests-a")
		signals.Before.Tests = &n
	}
	if flags.Changed("tests-b") {
		n, _ := flags.GetInt("tests-b")
		signals.After.Tests = &n
	}
	if flags.Changed("coverage-a") {
		c, _ := flags.GetFloat64("coverage-a")
		signals.Before.Coverage = &c
	}
	if flags.Changed("coverage-b") {
		c, _ := flags.GetFloat64("coverage-b")
		signals.After.Coverage = &c
	}
	return signals
}

func writeComparison(w io.Writer, cmp *session.Comparison) {
	fmt.Fprintf(w, "From: %s\n", cmp.From)
	fmt.Fprintf(w, "To:   %s\n", cmp.To)
	fmt.Fprintf(w, "Files changed: %d\n", len(cmp.FilesChanged))
	for _, f := range cmp.FilesChanged {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if cmp.TestDelta != nil {
		fmt.Fprintf(w, "Tests: %+d\n", *cmp.TestDelta)
	}
	if cmp.CoverageDelta != nil {
		fmt.Fprintf(w, "Coverage: %+.2f%%\n", *cmp.CoverageDelta)
	}
}

var checkpointFollowCmd = &cobra.Command{
	Use:   "follow",
	Short: "Print checkpoints as they are appended",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, _, err := checkpointStore(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		err = store.Follow(cmd.Context(), func(e session.Entry) error {
			_, err := fmt.Fprintln(out, e)
			return err
		})
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	checkpointCmd.PersistentFlags().String("file", "", "Checkpoint log (defaults to .hookgate/checkpoints.log in the project)")

	defaults := NewCheckpointCreateConfig()
	checkpointCreateCmd.Flags().String("revision", defaults.Revision, "Revision to record (defaults to HEAD)")
	checkpointCreateCmd.Flags().Bool("once", defaults.Once, "Skip when the latest checkpoint has the same name and revision")

	checkpointDiffCmd.Flags().Int("tests-a", 0, "Test count at FROM")
	checkpointDiffCmd.Flags().Int("tests-b", 0, "Test count at TO")
	checkpointDiffCmd.Flags().Float64("coverage-a", 0, "Coverage percentage at FROM")
	checkpointDiffCmd.Flags().Float64("coverage-b", 0, "Coverage percentage at TO")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointDiffCmd)
	checkpointCmd.AddCommand(checkpointFollowCmd)
}
