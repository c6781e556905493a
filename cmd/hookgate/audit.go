package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jingkaihe/hookgate/pkg/audit"
	"github.com/jingkaihe/hookgate/pkg/dispatch"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Review recorded dispatch decisions",
	Long:  `Review dispatch decisions recorded with --audit in ~/.hookgate/storage.db.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// AuditListConfig holds configuration for audit list
type AuditListConfig struct {
	Limit     int
	Outcome   string
	SessionID string
}

// NewAuditListConfig creates an AuditListConfig with default values
func NewAuditListConfig() *AuditListConfig {
	return &AuditListConfig{Limit: audit.DefaultListLimit}
}

// Validate validates the AuditListConfig and returns an error if invalid
func (c *AuditListConfig) Validate() error {
	switch hooks.Outcome(c.Outcome) {
	case "", hooks.OutcomeAllow, hooks.OutcomeBlock:
	default:
		return errors.Errorf("unknown outcome %q, expected allow or block", c.Outcome)
	}
	if c.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent decisions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		config := NewAuditListConfig()
		config.Limit, _ = cmd.Flags().GetInt("limit")
		config.Outcome, _ = cmd.Flags().GetString("outcome")
		config.SessionID, _ = cmd.Flags().GetString("session")
		if err := config.Validate(); err != nil {
			return err
		}

		store, err := audit.OpenDefault(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(ctx, audit.ListOptions{
			Limit:     config.Limit,
			Outcome:   hooks.Outcome(config.Outcome),
			SessionID: config.SessionID,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			presenter.Info("No decisions recorded")
			return nil
		}
		return writeRecords(cmd.OutOrStdout(), records)
	},
}

func writeRecords(w io.Writer, records []dispatch.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tTOOL\tOUTCOME\tDURATION\tRULE\tREASON")
	for _, r := range records {
		outcome := string(r.Outcome)
		if r.Integrity {
			outcome += " (integrity)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Event, dash(r.Tool), outcome, r.Duration, dash(r.Rule), dash(firstLine(r.Reason)))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func init() {
	defaults := NewAuditListConfig()
	auditListCmd.Flags().Int("limit", defaults.Limit, "Maximum number of decisions to show")
	auditListCmd.Flags().String("outcome", defaults.Outcome, "Only show decisions with this outcome (allow or block)")
	auditListCmd.Flags().String("session", defaults.SessionID, "Only show decisions of this session")
	auditCmd.AddCommand(auditListCmd)
}
