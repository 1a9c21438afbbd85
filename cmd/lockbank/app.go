package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/lockbank"
	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("LOCKBANK_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "lockbank")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lockbank",
		Short:         "lockbank runs a guarded ledger with blocking withdrawals and a single-occupancy track",
		SilenceErrors: true,
		Example: `
  # List and run the built-in concurrent scenarios
  lockbank scenario list
  lockbank scenario run refill contention

  # Grant blocked withdrawals to whoever the balance covers instead of in arrival order
  LOCKBANK_FAIRNESS=none lockbank scenario run contention

  # Race three cars through a five-stage section
  lockbank race --cars Ferrari,Lamborghini,Porsche --stages 5 --stage-delay 200ms

  # Ad-hoc ledger: the withdrawal blocks until the second deposit lands
  lockbank bank --op deposit:1000 --op withdraw:1500@alice --op deposit:1000

  # Expose Prometheus metrics while running
  lockbank --metrics-listen 127.0.0.1:9464 scenario run grand-prix
`,
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.lockbank/"+lockbank.DefaultConfigFileName+")")
	persistentFlags.String("log-level", "warn", "log level (trace, debug, info, warn, error); info shows every ledger and track event")
	persistentFlags.String("fairness", lockbank.DefaultFairness, "grant policy for blocked withdrawals (arrival, none)")
	persistentFlags.Int("stages", lockbank.DefaultTrackStages, "stages per track run")
	persistentFlags.Duration("stage-delay", lockbank.DefaultStageDelay, "pause between track stages (0 disables)")
	persistentFlags.String("metrics-listen", lockbank.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	persistentFlags.String("pprof-listen", lockbank.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	persistentFlags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	persistentFlags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	persistentFlags.Duration("shutdown-timeout", lockbank.DefaultShutdownTimeout, "how long to wait for telemetry to flush on exit")

	bindFlag := func(name string) {
		flag := persistentFlags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("LOCKBANK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{
		"config", "log-level",
		"fairness", "stages", "stage-delay",
		"metrics-listen", "pprof-listen", "enable-profiling-metrics", "otlp-endpoint", "shutdown-timeout",
	} {
		bindFlag(name)
	}

	cmd.AddCommand(newScenarioCommand(baseLogger))
	cmd.AddCommand(newRaceCommand(baseLogger))
	cmd.AddCommand(newBankCommand(baseLogger))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// openKernel loads the config file, applies flags and environment and starts
// a kernel. Callers own the returned kernel and must Close it.
func openKernel(cmd *cobra.Command, baseLogger pslog.Logger) (*lockbank.Kernel, pslog.Logger, error) {
	cmd.SilenceUsage = true
	configFile, err := loadConfigFile()
	if err != nil {
		return nil, nil, err
	}
	var cfg lockbank.Config
	bindConfig(&cfg)

	logger := loggingutil.EnsureLogger(baseLogger)
	logLevel := strings.TrimSpace(viper.GetString("log-level"))
	if logLevel == "" {
		logLevel = "info"
	}
	if level, ok := pslog.ParseLevel(logLevel); ok {
		logger = logger.LogLevel(level)
	} else {
		return nil, nil, fmt.Errorf("unknown log level %q", logLevel)
	}
	cliLogger := loggingutil.WithSubsystem(logger, "cli."+cmd.Name())
	if configFile != "" {
		cliLogger.Info("cli.config.loaded", "path", configFile)
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		cliLogger.Debug("cli.flag.set", "flag", f.Name, "value", f.Value.String())
	})

	kernel, err := lockbank.NewKernel(cfg, lockbank.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if addr := kernel.MetricsAddr(); addr != "" {
		cliLogger.WithLogLevel().Info("cli.metrics.listening", "addr", addr)
	}
	return kernel, cliLogger, nil
}

func closeKernel(kernel *lockbank.Kernel, logger pslog.Logger) {
	if err := kernel.Close(context.Background()); err != nil {
		logger.Warn("cli.kernel.close_failed", "error", err)
	}
}

func bindConfig(cfg *lockbank.Config) {
	cfg.Fairness = viper.GetString("fairness")
	cfg.TrackStages = viper.GetInt("stages")
	cfg.StageDelay = viper.GetDuration("stage-delay")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if candidate, err := lockbank.DefaultConfigPath(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
