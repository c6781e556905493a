package main

import (
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/jingkaihe/hookgate/pkg/guard"
	"github.com/spf13/cobra"
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Built-in guard hooks",
	Long:  `Built-in hooks that can be referenced from a configuration like any other command.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var guardGitCmd = &cobra.Command{
	Use:   "git",
	Short: "Block git commands that change repository state",
	Long: heredoc.Doc(`
		Read a PreToolUse event from stdin and block shell commands that run a
		state-changing git operation (commit, push, reset, ...). Read-only git
		commands and other tools pass through unchanged.

		Exits 2 with an explanation on stderr when the command is blocked.
	`),
	Example: heredoc.Doc(`
		{
		  "hooks": {
		    "PreToolUse": [
		      {"matcher": "Bash", "hooks": [{"type": "command", "command": "hookgate guard git"}]}
		    ]
		  }
		}
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tools, _ := cmd.Flags().GetStringSlice("tool")
		var opts []guard.Option
		if len(tools) > 0 {
			opts = append(opts, guard.WithTools(tools...))
		}

		code := guard.NewGitWriteBlocker(opts...).Run(os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	guardGitCmd.Flags().StringSlice("tool", nil, "Tool names whose command is inspected (default Bash)")
	guardCmd.AddCommand(guardGitCmd)
}
