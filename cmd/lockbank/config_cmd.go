package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/lockbank"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage lockbank configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.lockbank/" + lockbank.DefaultConfigFileName
	if path, err := lockbank.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default lockbank configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			target := outPath
			if target == "" {
				target, err = lockbank.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
			}
			if target, err = expandPath(target); err != nil {
				return fmt.Errorf("expand output path: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(target, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the persistent flags; keys match flag names so viper
// picks them up from the file.
type configDefaults struct {
	LogLevel               string `yaml:"log-level"`
	Fairness               string `yaml:"fairness"`
	Stages                 int    `yaml:"stages"`
	StageDelay             string `yaml:"stage-delay"`
	MetricsListen          string `yaml:"metrics-listen"`
	PprofListen            string `yaml:"pprof-listen"`
	EnableProfilingMetrics bool   `yaml:"enable-profiling-metrics"`
	OTLPEndpoint           string `yaml:"otlp-endpoint"`
	ShutdownTimeout        string `yaml:"shutdown-timeout"`
}

func defaultConfigYAML() ([]byte, error) {
	def := lockbank.DefaultConfig()
	cfg := configDefaults{
		LogLevel:               "warn",
		Fairness:               def.Fairness,
		Stages:                 def.TrackStages,
		StageDelay:             def.StageDelay.String(),
		MetricsListen:          def.MetricsListen,
		PprofListen:            def.PprofListen,
		EnableProfilingMetrics: def.EnableProfilingMetrics,
		OTLPEndpoint:           def.OTLPEndpoint,
		ShutdownTimeout:        def.ShutdownTimeout.String(),
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	header := []byte("# lockbank configuration. Environment variables (LOCKBANK_*) and flags override these values.\n")
	return append(header, data...), nil
}
