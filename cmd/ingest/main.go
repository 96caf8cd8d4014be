// Command ingest is a thin wrapper around an external, out-of-scope
// raw-market-data-to-`.snap` converter binary (spec.md §1 describes it
// as "a separate native binary invoked by the ingestion driver" --
// its CSV-parsing internals are explicitly out of this module's
// scope). ingest shells out to that binary, then validates the
// resulting `.snap` header and fingerprints it, so the converter's
// *interface* is exercised end-to-end even though its implementation
// lives elsewhere.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/rishav/lob-microstructure-sim/internal/artifact"
	"github.com/rishav/lob-microstructure-sim/internal/snapshot"
)

func main() {
	os.Exit(run())
}

func run() int {
	var converterPath string
	var outPath string

	cmd := &cobra.Command{
		Use:   "ingest <raw-input-file>",
		Short: "Convert raw market data to a .snap file via an external converter binary, then validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if converterPath == "" {
				return fmt.Errorf("ingest: --converter not configured: this module does not implement raw-format parsing, it only invokes an external converter")
			}
			if outPath == "" {
				return fmt.Errorf("ingest: --out is required")
			}

			c := exec.Command(converterPath, args[0], outPath)
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("ingest: running converter %s: %w", converterPath, err)
			}

			k, err := snapshot.Open(outPath)
			if err != nil {
				return fmt.Errorf("ingest: validating converter output: %w", err)
			}
			defer k.Close()
			h := k.Header()

			dfp, err := artifact.FingerprintFile(outPath)
			if err != nil {
				return fmt.Errorf("ingest: fingerprinting output: %w", err)
			}

			fmt.Printf("ok: %s version=%d depth=%d record_count=%d size_bytes=%d head_sha256=%s tail_sha256=%s\n",
				outPath, h.Version, h.Depth, h.RecordCount, dfp.SizeBytes, dfp.HeadSHA256, dfp.TailSHA256)
			return nil
		},
	}
	cmd.Flags().StringVar(&converterPath, "converter", "", "path to the external raw-to-.snap converter binary")
	cmd.Flags().StringVar(&outPath, "out", "", "path to write the converted .snap file to")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		return 2
	}
	return 0
}
