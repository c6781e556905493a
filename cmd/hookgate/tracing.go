package main

import (
	"context"

	"github.com/jingkaihe/hookgate/pkg/telemetry"
	"github.com/jingkaihe/hookgate/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// initTracing initializes the OpenTelemetry tracing system
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	config := telemetry.DefaultConfig()
	config.Enabled = viper.GetBool("tracing.enabled")
	config.ServiceVersion = version.Get().Version
	config.SamplerType = viper.GetString("tracing.sampler")
	config.SamplerRatio = viper.GetFloat64("tracing.ratio")
	config.Endpoint = viper.GetString("tracing.endpoint")
	config.Insecure = viper.GetBool("tracing.insecure")

	return telemetry.InitTracer(ctx, config)
}

// Initialize global flags for tracing
func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	flags.Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")
	flags.String("tracing-endpoint", "", "OTLP HTTP endpoint (host:port)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")

	viper.BindPFlag("tracing.enabled", flags.Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", flags.Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", flags.Lookup("tracing-ratio"))
	viper.BindPFlag("tracing.endpoint", flags.Lookup("tracing-endpoint"))
	viper.BindPFlag("tracing.insecure", flags.Lookup("tracing-insecure"))
}

var commandSpan trace.Span

// startCommandSpan opens the span covering the whole command. Flag values
// are recorded as attributes.
func startCommandSpan(cmd *cobra.Command, args []string) {
	attrs := []attribute.KeyValue{
		attribute.String("command.name", cmd.Name()),
		attribute.String("command.path", cmd.CommandPath()),
		attribute.Int("args.count", len(args)),
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
	})

	ctx, span := telemetry.StartSpan(cmd.Context(), "cli.command", attrs...)
	cmd.SetContext(ctx)
	commandSpan = span
}

func endCommandSpan(err error) {
	if commandSpan != nil {
		telemetry.EndSpan(commandSpan, err)
	}
}
