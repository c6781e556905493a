package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/jingkaihe/hookgate/pkg/audit"
	"github.com/jingkaihe/hookgate/pkg/dispatch"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Exit codes of the dispatch command
const (
	exitBlocked   = 2
	exitIntegrity = 3
)

// DispatchConfig holds configuration for the dispatch command
type DispatchConfig struct {
	Event string
	// AsyncWait is how long to wait for async hooks after the decision has
	// been written. Zero exits at once and leaves them running.
	AsyncWait time.Duration
}

// NewDispatchConfig creates a DispatchConfig with default values
func NewDispatchConfig() *DispatchConfig {
	return &DispatchConfig{}
}

// Validate validates the DispatchConfig and returns an error if invalid
func (c *DispatchConfig) Validate() error {
	if c.Event != "" && !hooks.EventType(c.Event).Valid() {
		return errors.Errorf("unknown event type %q", c.Event)
	}
	if c.AsyncWait < 0 {
		return errors.New("async wait cannot be negative")
	}
	return nil
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch an event read from stdin through the configured hooks",
	Long: heredoc.Doc(`
		Read one event document from stdin, run the hooks of every matching rule
		in order and report the decision.

		On allow the final payload is written to stdout and the exit status is 0.
		On block the reason is written to stderr and the exit status is 2. When
		a hook broke the payload chain the exit status is 3.
	`),
	Example: heredoc.Doc(`
		echo '{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"git push"}}' | hookgate dispatch
		hookgate dispatch --event SessionStart < event.json
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getDispatchConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			return err
		}

		code, err := runDispatch(cmd.Context(), getGlobalConfig(), config, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	defaults := NewDispatchConfig()
	dispatchCmd.Flags().String("event", defaults.Event, "Event type to assume when the document does not name one")
	dispatchCmd.Flags().Duration("async-wait", defaults.AsyncWait, "How long to wait for async hooks after deciding (0 leaves them running)")
}

func getDispatchConfigFromFlags(cmd *cobra.Command) *DispatchConfig {
	config := NewDispatchConfig()
	if event, err := cmd.Flags().GetString("event"); err == nil {
		config.Event = event
	}
	if wait, err := cmd.Flags().GetDuration("async-wait"); err == nil {
		config.AsyncWait = wait
	}
	return config
}

// runDispatch dispatches the event on stdin and returns the exit code that
// reports the decision
func runDispatch(ctx context.Context, global *GlobalConfig, config *DispatchConfig, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read event")
	}
	evt, err := hooks.ParseEvent(data, hooks.EventType(config.Event))
	if err != nil {
		return 0, err
	}

	reg, err := global.loadRegistry(ctx)
	if err != nil {
		return 0, err
	}
	projectDir, err := global.projectDir()
	if err != nil {
		return 0, err
	}

	opts := []dispatch.Option{
		dispatch.WithTimeout(global.Timeout),
		dispatch.WithProjectDir(projectDir),
	}
	if global.Audit {
		store, err := audit.OpenDefault(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("audit trail unavailable, continuing without it")
		} else {
			defer store.Close()
			opts = append(opts, dispatch.WithRecorder(store))
		}
	}

	dispatcher := dispatch.New(reg, opts...)
	decision, err := dispatcher.Dispatch(ctx, evt)
	defer drain(ctx, dispatcher, config.AsyncWait)

	var integrity *dispatch.ChainIntegrityError
	switch {
	case errors.As(err, &integrity) && decision != nil:
		fmt.Fprintln(stderr, decision.Reason)
		return exitIntegrity, nil
	case err != nil:
		return 0, err
	case !decision.Allowed():
		fmt.Fprintln(stderr, decision.Reason)
		return exitBlocked, nil
	}

	if len(decision.Payload) > 0 {
		if _, err := fmt.Fprintln(stdout, string(decision.Payload)); err != nil {
			return 0, errors.Wrap(err, "failed to write payload")
		}
	}
	return 0, nil
}

func drain(ctx context.Context, dispatcher *dispatch.Dispatcher, wait time.Duration) {
	if wait <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := dispatcher.Drain(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("async hooks still running")
	}
}
