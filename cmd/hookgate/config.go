package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/plugins"
	"github.com/jingkaihe/hookgate/pkg/registry"
	"github.com/jingkaihe/hookgate/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
)

var envKeyReplacer = strings.NewReplacer("-", "_", ".", "_")

// GlobalConfig holds the settings shared by every command
type GlobalConfig struct {
	ConfigFiles []string
	PluginRoot  string
	ProjectDir  string
	LogLevel    string
	LogFormat   string
	LogFile     string
	Timeout     time.Duration
	Audit       bool
	Quiet       bool
}

// NewGlobalConfig creates a GlobalConfig with default values
func NewGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		LogLevel:  "info",
		LogFormat: "fmt",
		Timeout:   hooks.DefaultTimeout,
	}
}

func init() {
	defaults := NewGlobalConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("config", nil, "Hook configuration file; repeatable, earlier files take precedence")
	flags.String("plugin-root", "", "Directory substituted for ${CLAUDE_PLUGIN_ROOT} in explicit and project configurations")
	flags.String("project-dir", "", "Project directory (defaults to $CLAUDE_PROJECT_DIR or the working directory)")
	flags.String("log-level", defaults.LogLevel, "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", defaults.LogFormat, "Log format (fmt or json)")
	flags.String("log-file", "", "Write logs to a rotated file instead of stderr")
	flags.Duration("timeout", defaults.Timeout, "Default hook timeout")
	flags.Bool("audit", defaults.Audit, "Record dispatch decisions in the storage database")
	flags.BoolP("quiet", "q", defaults.Quiet, "Only print errors from management commands")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("plugin_root", flags.Lookup("plugin-root"))
	viper.BindPFlag("project_dir", flags.Lookup("project-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
	viper.BindPFlag("audit", flags.Lookup("audit"))
	viper.BindPFlag("quiet", flags.Lookup("quiet"))
}

func getGlobalConfig() *GlobalConfig {
	config := NewGlobalConfig()
	config.ConfigFiles = viper.GetStringSlice("config")
	config.PluginRoot = viper.GetString("plugin_root")
	config.ProjectDir = viper.GetString("project_dir")
	config.LogLevel = viper.GetString("log_level")
	config.LogFormat = viper.GetString("log_format")
	config.LogFile = viper.GetString("log_file")
	if timeout := viper.GetDuration("timeout"); timeout > 0 {
		config.Timeout = timeout
	}
	config.Audit = viper.GetBool("audit")
	config.Quiet = viper.GetBool("quiet")
	return config
}

// projectDir returns the configured project directory, then
// $CLAUDE_PROJECT_DIR, then the working directory
func (c *GlobalConfig) projectDir() (string, error) {
	dir := c.ProjectDir
	if dir == "" {
		dir = os.Getenv(registry.VarProjectDir)
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "failed to get working directory")
		}
		dir = wd
	}
	return filepath.Abs(dir)
}

func (c *GlobalConfig) discovery() (*plugins.Discovery, error) {
	projectDir, err := c.projectDir()
	if err != nil {
		return nil, err
	}
	opts := []plugins.DiscoveryOption{
		plugins.WithBaseDir(filepath.Join(projectDir, ".hookgate")),
		plugins.WithConfigFiles(c.ConfigFiles...),
	}
	if c.PluginRoot != "" {
		opts = append(opts, plugins.WithPluginRoot(c.PluginRoot))
	}
	return plugins.NewDiscovery(opts...)
}

// loadRegistry discovers, parses and merges every configuration source
func (c *GlobalConfig) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	discovery, err := c.discovery()
	if err != nil {
		return nil, err
	}

	var reg *registry.Registry
	err = telemetry.WithSpan(ctx, "hookgate.load_registry", func(ctx context.Context) error {
		sets, err := discovery.Load(ctx)
		if err != nil {
			return err
		}
		reg, err = registry.Merge(sets...)
		if err != nil {
			return err
		}
		telemetry.SetAttributes(ctx,
			attribute.Int("registry.sources", len(sets)),
			attribute.Int("registry.rules", reg.Len()),
			attribute.Int("registry.duplicates", len(reg.Duplicates())),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, dup := range reg.Duplicates() {
		logger.G(ctx).WithField("rule", dup.Name()).Debug("dropped duplicate rule")
	}
	return reg, nil
}
