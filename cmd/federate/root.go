package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/internal/engine"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/observability"
)

const envPrefix = "FEDERATE"

// cli carries the resolved settings shared by every subcommand
type cli struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "federate",
		Short: "Federate - data virtualization engine core",
		Long: `Federate runs atomic requests against heterogeneous physical sources
(relational databases, document stores, event streams, object stores and
warehouses) through pluggable translators, with per-source worker pools,
chunked LOB streaming and XA transaction pass-through.

Settings are read from flags, then FEDERATE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindSettings(c.v, cmd.Flags())
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Engine configuration file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format override (json, console)")
	root.PersistentFlags().Duration("timeout", 5*time.Minute, "Overall timeout of the command")

	root.AddCommand(newVersionCommand(c))
	root.AddCommand(newTranslatorsCommand(c))
	root.AddCommand(newCapabilitiesCommand(c))
	root.AddCommand(newQueryCommand(c))
	root.AddCommand(newStatusCommand(c))
	root.AddCommand(newServeCommand(c))

	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// bindSettings makes every flag readable through v, with FEDERATE_<FLAG>
// environment variables as the fallback for flags not set on the command
// line.
func bindSettings(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return nil
}

// loadConfig reads the engine configuration and applies its observability
// settings, with flag overrides for logging.
func (c *cli) loadConfig() (*config.EngineConfig, error) {
	path := c.v.GetString("config")
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "an engine configuration file is required (--config or FEDERATE_CONFIG)")
	}
	cfg, err := config.LoadEngineConfig(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load engine configuration").
			WithDetail("path", path)
	}

	if level := c.v.GetString("log-level"); level != "" {
		cfg.Observability.LogLevel = level
	}
	if format := c.v.GetString("log-format"); format != "" {
		cfg.Observability.LogFormat = format
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogFormat,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig("federate")
		tc.ServiceVersion = version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		tc.Writer = c.stderr
		if err := observability.InitTracing(tc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
		}
	}
	return cfg, nil
}

// startEngine loads the configuration and starts an engine over it. Sources
// that fail to start are logged and stay unavailable. The returned stop
// function stops the engine and flushes tracing.
func (c *cli) startEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Start(ctx); err != nil {
		logger.Get().Warn("engine started degraded", zap.Error(err))
	}
	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WorkManager.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := e.Stop(shutdownCtx); err != nil {
			logger.Get().Warn("engine stop reported errors", zap.Error(err))
		}
		_ = observability.Shutdown(shutdownCtx)
		_ = logger.Sync()
	}
	return e, stop, nil
}

// commandContext bounds ctx by the --timeout setting
func (c *cli) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := c.v.GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.stdout, format, args...)
}
