package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitError carries a process exit code out of a command. Commands that
// speak the hook protocol report decisions through the exit code.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func init() {
	viper.SetEnvPrefix("HOOKGATE")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.hookgate")
	viper.AddConfigPath(".")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
	viper.SetDefault("audit", false)
	viper.SetDefault("quiet", false)
}

// loadConfigFile reads the global config file, then merges ./hookgate.yaml
// over it when present.
func loadConfigFile() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config file")
		}
	}

	if _, err := os.Stat("hookgate.yaml"); err == nil {
		viper.SetConfigFile("hookgate.yaml")
		if err := viper.MergeInConfig(); err != nil {
			return errors.Wrap(err, "failed to read hookgate.yaml")
		}
	}
	return nil
}

var (
	logCloser       io.Closer
	shutdownTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "hookgate",
	Short: "Policy engine for coding-agent hooks",
	Long: heredoc.Doc(`
		hookgate decides whether the operations of a coding agent may proceed.

		The host runtime hands every tool invocation and lifecycle event to
		'hookgate dispatch', which runs the hooks of every matching rule in
		order and reports allow or block through its exit code.
	`),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfigFile(); err != nil {
			return err
		}

		config := getGlobalConfig()
		if err := logger.SetLogLevel(config.LogLevel); err != nil {
			return errors.Wrapf(err, "invalid log level %q", config.LogLevel)
		}
		logger.SetLogFormat(config.LogFormat)
		presenter.SetQuiet(config.Quiet)
		if config.LogFile != "" {
			closer, err := logger.SetLogFile(logger.FileOptions{Path: config.LogFile})
			if err != nil {
				return err
			}
			logCloser = closer
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
		} else {
			shutdownTracing = shutdown
		}
		startCommandSpan(cmd, args)
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func cleanup(ctx context.Context, err error) {
	endCommandSpan(err)
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to shut down tracing")
		}
	}
	if logCloser != nil {
		logCloser.Close()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.ExecuteContext(ctx)
	cleanup(context.WithoutCancel(ctx), err)
	stop()

	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	presenter.Error(err, "")
	os.Exit(1)
}
