// Command simrunner runs a deterministic L2 limit-order-book
// microstructure simulation over a `.snap` replay file and writes a
// complete, auditable run directory.
//
// Grounded on the teacher's cmd/server (flag parsing into a
// config-struct, explicit logger construction, clean process exit
// codes), reshaped from a long-lived HTTP server into a one-shot batch
// command; wired to github.com/spf13/cobra + github.com/spf13/viper for
// the CLI/config layer, per spec.md §6.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rishav/lob-microstructure-sim/internal/config"
	"github.com/rishav/lob-microstructure-sim/internal/replay"
	"github.com/rishav/lob-microstructure-sim/internal/runner"
	"github.com/rishav/lob-microstructure-sim/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 success, 1 on a strict-mode
// invariant failure (the run directory was still written in full), 2
// on a configuration, flag, or setup error (spec.md's exit-code
// table).
func run() int {
	var cfgFile string
	var cfg config.Config

	root := &cobra.Command{
		Use:           "simrunner",
		Short:         "Deterministic L2 order-book microstructure simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&cfg.RunRoot, "run-root", "", "directory run output is written under (overrides config)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	root.PersistentFlags().BoolVar(&cfg.LogPretty, "log-pretty", false, "use a human-readable console logger")
	root.PersistentFlags().BoolVar(&cfg.Strict, "strict", false, "fail the run (non-zero exit) on any invariant violation")

	root.AddCommand(newRunCmd(&cfgFile, &cfg))
	root.AddCommand(newValidateSnapCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simrunner:", err)
		var strictErr *runner.StrictFailure
		if errors.As(err, &strictErr) {
			return 1
		}
		return 2
	}
	return 0
}

func loadConfig(cfgFile string, overrides config.Config) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if overrides.RunRoot != "" {
		cfg.RunRoot = overrides.RunRoot
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.LogPretty {
		cfg.LogPretty = true
	}
	if overrides.Strict {
		cfg.Strict = true
	}
	return cfg, nil
}

func newRunCmd(cfgFile *string, overrides *config.Config) *cobra.Command {
	var snapPath string
	var maxSteps int64
	var alphaPpm, makerFeePpm, takerFeePpm int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a .snap file through the matching engine and write a run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile, *overrides)
			if err != nil {
				return err
			}
			log := telemetry.New(telemetry.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

			if snapPath == "" {
				return fmt.Errorf("--snap is required")
			}
			spec := runner.DefaultSpec(snapPath)
			if maxSteps > 0 {
				spec.MaxSteps = maxSteps
			}
			spec.AlphaPpm = alphaPpm
			spec.MakerFeePpm = makerFeePpm
			spec.TakerFeePpm = takerFeePpm

			result, err := runner.RunScenario(spec, cfg.RunRoot, cfg.Strict, log)
			if err != nil {
				log.Error().Err(err).Str("run_id", result.RunID).Msg("run completed with failures")
				return err
			}
			log.Info().
				Str("run_id", result.RunID).
				Str("run_dir", result.RunDir).
				Int64("steps", result.StepsRun).
				Int("fills", result.FillsCount).
				Int("events", result.EventsCount).
				Int("failures", len(result.Failures)).
				Msg("run complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&snapPath, "snap", "", "path to the input .snap file")
	cmd.Flags().Int64Var(&maxSteps, "max-steps", 0, "stop after this many steps (0 = run to EOF)")
	cmd.Flags().Int64Var(&alphaPpm, "alpha-ppm", 0, "crossing-tolerance, parts-per-million")
	cmd.Flags().Int64Var(&makerFeePpm, "maker-fee-ppm", 0, "maker fee, parts-per-million")
	cmd.Flags().Int64Var(&takerFeePpm, "taker-fee-ppm", 0, "taker fee, parts-per-million")
	return cmd
}

func newValidateSnapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-snap <path>",
		Short: "Validate a .snap file's header and record stream without running a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := replay.Open(args[0])
			if err != nil {
				return err
			}
			defer k.Close()

			count := uint64(0)
			for {
				_, ok, err := k.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				count++
			}
			h := k.Header()
			fmt.Printf("ok: version=%d depth=%d record_count=%d price_scale=%d qty_scale=%d validated=%d\n",
				h.Version, h.Depth, h.RecordCount, h.PriceScale, h.QtyScale, count)
			return nil
		},
	}
}
