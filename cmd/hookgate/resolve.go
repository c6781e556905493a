package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/jingkaihe/hookgate/pkg/resolver"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// defaultInterpreters are resolved when no name is given
var defaultInterpreters = []string{"sh", "bash", "node", "python3"}

var resolveCmd = &cobra.Command{
	Use:   "resolve [NAME...]",
	Short: "Show where hook interpreters resolve to",
	Long: `Resolve interpreters the way hook commands are resolved: PATH first, then
well-known install directories, then version manager installs, newest first.

With --rewrite the arguments are printed with Windows paths rewritten for WSL
instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r := resolver.New()
		out := cmd.OutOrStdout()

		if rewrite, _ := cmd.Flags().GetBool("rewrite"); rewrite {
			fmt.Fprintln(out, strings.Join(r.RewriteArgs(ctx, args), " "))
			return nil
		}

		names := args
		if len(names) == 0 {
			names = defaultInterpreters
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tPATH\tSOURCE")
		var missing []string
		for _, name := range names {
			exe, err := r.Resolve(ctx, name)
			if err != nil {
				if !errors.Is(err, resolver.ErrNotFound) {
					return err
				}
				missing = append(missing, name)
				fmt.Fprintf(tw, "%s\t-\tnot found\n", name)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, exe.Path, exe.Source)
		}
		tw.Flush()

		if r.InWSL(ctx) {
			presenter.Info("Running under WSL: Windows path arguments are rewritten")
		}
		if len(missing) > 0 && len(args) > 0 {
			return errors.Errorf("not found: %s", strings.Join(missing, ", "))
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().Bool("rewrite", false, "Rewrite the arguments for WSL instead of resolving them")
}
