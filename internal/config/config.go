// Package config loads cmd/simrunner's process configuration: where to
// find an optional YAML config file, which run-root directory to
// write into, and the logging/telemetry knobs. This is deliberately
// separate from runner.ScenarioSpec, which is the auditable per-run
// contract and is never touched by viper or environment variables --
// only loaded/saved as canonical JSON.
//
// Grounded on the teacher's config-struct-with-defaults idiom
// (matching.SimulatorParams, risk.Config, events.EventLogConfig all
// follow this shape); wired to github.com/spf13/viper for YAML-file +
// `SIMRUNNER_`-prefixed environment-variable configuration, sourced
// from the sawpanic-cryptorun manifest's go.mod in the example pack.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is cmd/simrunner's process-level configuration.
type Config struct {
	RunRoot     string `mapstructure:"run_root"`
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`
	Strict      bool   `mapstructure:"strict"`
	GitRevision string `mapstructure:"git_revision"` // loaded but not read by the runner; manifest git_sha always comes from gitInfo
}

// Defaults returns the zero-config baseline, mirroring the teacher's
// constructor-with-defaults pattern.
func Defaults() Config {
	return Config{
		RunRoot:   "./runs",
		LogLevel:  "info",
		LogPretty: false,
		Strict:    false,
	}
}

// Load reads cfgFile (if non-empty) as YAML, overlays
// `SIMRUNNER_`-prefixed environment variables, and returns the
// resulting Config seeded from Defaults().
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("run_root", d.RunRoot)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("strict", d.Strict)

	v.SetEnvPrefix("SIMRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
