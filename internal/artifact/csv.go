package artifact

import (
	"encoding/csv"
	"fmt"
	"os"
)

// WriteCSV writes header followed by rows to path, matching
// artifacts.py's write_csv (stdlib csv.writer semantics: CRLF-free,
// minimal quoting).
func WriteCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifact: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.UseCRLF = false
	if err := w.Write(header); err != nil {
		return fmt.Errorf("artifact: writing csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("artifact: writing csv rows: %w", err)
	}
	w.Flush()
	return w.Error()
}
