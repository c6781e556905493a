package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc"
	"github.com/jingkaihe/hookgate/pkg/plugins"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage hook plugins",
	Long:  `Install, list, and remove hook plugins from GitHub repositories or local directories.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var pluginAddCmd = &cobra.Command{
	Use:   "add <repo>[@ref]|<dir>...",
	Short: "Install hook plugins",
	Long: heredoc.Doc(`
		Install hook plugins from GitHub repositories or local directories.

		A plugin carries its rules in hooks/hooks.json (or hooks.yaml) and may
		ship the scripts its hooks run; commands reach them through
		${CLAUDE_PLUGIN_ROOT}. The configuration is validated before anything
		is installed.
	`),
	Example: heredoc.Doc(`
		hookgate plugin add acme/guards              # Install from GitHub
		hookgate plugin add acme/guards@v1.0.0       # Install a tag or branch
		hookgate plugin add ./my-guards              # Install a local directory
		hookgate plugin add acme/guards -g           # Install globally
		hookgate plugin add acme/guards --force      # Overwrite an existing plugin
	`),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		global, _ := cmd.Flags().GetBool("global")
		force, _ := cmd.Flags().GetBool("force")

		discovery, err := getGlobalConfig().discovery()
		if err != nil {
			return err
		}
		installer := plugins.NewInstaller(discovery,
			plugins.WithGlobal(global),
			plugins.WithForce(force),
		)

		for _, arg := range args {
			src, ref := parseRepoRef(arg)
			presenter.Info(fmt.Sprintf("Installing plugin from %s...", src))

			result, err := installer.Install(cmd.Context(), src, ref)
			if err != nil {
				return errors.Wrapf(err, "failed to install from %s", src)
			}
			presenter.Success(fmt.Sprintf("Plugin '%s' installed to %s (%d rules)", result.Plugin.Name, result.Plugin.Path, result.Rules))
		}

		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		discovery, err := getGlobalConfig().discovery()
		if err != nil {
			return err
		}

		var all []plugins.InstalledPlugin
		for _, global := range []bool{false, true} {
			installed, err := discovery.ListInstalledPlugins(global)
			if err != nil {
				return err
			}
			all = append(all, installed...)
		}
		if len(all) == 0 {
			presenter.Info("No plugins installed")
			return nil
		}

		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Name < all[j].Name
		})

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLOCATION\tCONFIG")
		for _, p := range all {
			location := "local"
			if p.Global {
				location = "global"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, location, p.Config)
		}
		return tw.Flush()
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Remove one or more plugins",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		global, _ := cmd.Flags().GetBool("global")

		discovery, err := getGlobalConfig().discovery()
		if err != nil {
			return err
		}
		remover := plugins.NewRemover(discovery, plugins.WithGlobal(global))

		var removed []string
		for _, name := range args {
			if err := remover.Remove(name); err != nil {
				return errors.Wrapf(err, "failed to remove %s", name)
			}
			removed = append(removed, name)
		}

		presenter.Success(fmt.Sprintf("Removed plugins: %s", strings.Join(removed, ", ")))
		return nil
	},
}

// parseRepoRef splits "owner/repo@ref". Local paths are returned unchanged.
func parseRepoRef(arg string) (repo, ref string) {
	if strings.HasPrefix(arg, ".") || strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "~") {
		return arg, ""
	}
	if idx := strings.LastIndex(arg, "@"); idx != -1 {
		return arg[:idx], arg[idx+1:]
	}
	return arg, ""
}

func init() {
	pluginAddCmd.Flags().BoolP("global", "g", false, "Install to ~/.hookgate/plugins")
	pluginAddCmd.Flags().Bool("force", false, "Overwrite an existing plugin")
	pluginRemoveCmd.Flags().BoolP("global", "g", false, "Remove from ~/.hookgate/plugins")

	pluginCmd.AddCommand(pluginAddCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
}
