package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc"
	"github.com/aymanbagabas/go-udiff"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/jingkaihe/hookgate/pkg/registry"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate hook configuration",
	Long: heredoc.Doc(`
		Inspect the hook configuration hookgate would dispatch with.

		Sources are read in priority order: --config files, .hookgate/hooks.json,
		project plugins under .hookgate/plugins, global plugins under
		~/.hookgate/plugins and finally ~/.hookgate/hooks.json.
	`),
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every configuration source",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runConfigValidate(getGlobalConfig())
	},
}

// runConfigValidate parses every source on its own, reporting each one, then
// checks that the sources merge
func runConfigValidate(global *GlobalConfig) error {
	discovery, err := global.discovery()
	if err != nil {
		return err
	}
	sources, err := discovery.Sources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		presenter.Warning("No configuration sources found")
		return nil
	}

	var (
		sets   []*registry.RuleSet
		failed int
	)
	presenter.Section("Sources")
	for _, src := range sources {
		set, err := registry.LoadFile(src.Path, registry.WithPluginRoot(src.PluginRoot))
		if err != nil {
			failed++
			reportConfigError(err, src.Path)
			continue
		}
		presenter.Success(fmt.Sprintf("%s (%s, %d rules)", src.Path, src.Origin, len(set.Rules)))
		sets = append(sets, set)
	}
	if failed > 0 {
		return &exitError{code: 1}
	}

	reg, err := registry.Merge(sets...)
	if err != nil {
		return err
	}
	if dups := reg.Duplicates(); len(dups) > 0 {
		names := make([]string, 0, len(dups))
		for _, d := range dups {
			names = append(names, d.Name())
		}
		presenter.Warning(fmt.Sprintf("%d duplicate rules dropped: %s", len(dups), strings.Join(names, ", ")))
	}
	presenter.Separator()
	presenter.Info(fmt.Sprintf("%d rules from %d sources", reg.Len(), len(sources)))
	return nil
}

func reportConfigError(err error, source string) {
	problems := registry.ConfigErrors(err)
	if len(problems) == 0 {
		presenter.Error(err, source)
		return
	}
	for _, p := range problems {
		presenter.Error(p, "")
	}
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged rules in dispatch order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := getGlobalConfig().loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		return writeRuleTable(cmd.OutOrStdout(), reg)
	},
}

func writeRuleTable(w io.Writer, reg *registry.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tRULE\tMATCHER\tHOOKS")
	fmt.Fprintln(tw, "-----\t----\t-------\t-----")
	for _, event := range hooks.AllEventTypes() {
		for _, rule := range reg.Rules(event) {
			commands := make([]string, 0, len(rule.Hooks))
			for _, h := range rule.Hooks {
				c := h.Command
				if h.Async {
					c += " (async)"
				}
				commands = append(commands, c)
			}
			matcher := rule.Matcher
			if matcher == "" {
				matcher = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", event, rule.Name(), matcher, strings.Join(commands, "; "))
		}
	}
	return tw.Flush()
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := json.MarshalIndent(registry.Schema(), "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal schema")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// MergeConfig holds configuration for the config merge command
type MergeConfig struct {
	Format string
	Output string
	Diff   bool
}

// NewMergeConfig creates a MergeConfig with default values
func NewMergeConfig() *MergeConfig {
	return &MergeConfig{Format: "json"}
}

// Validate validates the MergeConfig and returns an error if invalid
func (c *MergeConfig) Validate() error {
	if c.Format != "json" && c.Format != "yaml" {
		return errors.Errorf("unsupported format %q, expected json or yaml", c.Format)
	}
	return nil
}

var configMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Write the merged configuration as a single document",
	Long: heredoc.Doc(`
		Merge every configuration source into one document, with plugin root
		variables resolved. The document goes to stdout or to --output.

		With --diff nothing is written; instead the unified diff between the
		current content of --output (or .hookgate/hooks.json) and the merged
		document is printed.
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getMergeConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			return err
		}
		global := getGlobalConfig()
		reg, err := global.loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		merged, err := renderDocument(reg.Document(), config.Format)
		if err != nil {
			return err
		}

		if config.Diff {
			target := config.Output
			if target == "" {
				projectDir, err := global.projectDir()
				if err != nil {
					return err
				}
				target = filepath.Join(projectDir, ".hookgate", "hooks.json")
			}
			current, err := os.ReadFile(target)
			if err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "failed to read %s", target)
			}
			diff := udiff.Unified(target, target+" (merged)", string(current), string(merged))
			if diff == "" {
				presenter.Info("No changes")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), diff)
			return nil
		}

		if config.Output == "" {
			_, err := cmd.OutOrStdout().Write(merged)
			return err
		}
		if err := os.MkdirAll(filepath.Dir(config.Output), 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
		if err := os.WriteFile(config.Output, merged, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", config.Output)
		}
		presenter.Success(fmt.Sprintf("Wrote %d rules to %s", reg.Len(), config.Output))
		return nil
	},
}

func renderDocument(doc registry.Document, format string) ([]byte, error) {
	if format == "yaml" {
		return doc.YAML()
	}
	return doc.JSON()
}

func getMergeConfigFromFlags(cmd *cobra.Command) *MergeConfig {
	config := NewMergeConfig()
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}
	if diff, err := cmd.Flags().GetBool("diff"); err == nil {
		config.Diff = diff
	}
	return config
}

func init() {
	defaults := NewMergeConfig()
	configMergeCmd.Flags().String("format", defaults.Format, "Output format (json or yaml)")
	configMergeCmd.Flags().StringP("output", "o", defaults.Output, "Write the merged document to this file")
	configMergeCmd.Flags().Bool("diff", defaults.Diff, "Print a diff against the target file instead of writing")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configMergeCmd)
}
