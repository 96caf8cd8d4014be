package artifact

import (
	"fmt"
	"os"
)

// WriteJSON writes v to path as one canonical JSON document followed
// by a single trailing newline, matching artifacts.py's write_json.
func WriteJSON(path string, v any) error {
	body, err := CanonicalJSON(v)
	if err != nil {
		return err
	}
	body = append(body, '\n')
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("artifact: writing %s: %w", path, err)
	}
	return nil
}

// JSONLWriter appends canonical-JSON rows to a JSONL stream, one row
// per line, matching artifacts.py's append_jsonl.
type JSONLWriter struct {
	f *os.File
}

// OpenJSONL opens path for appending (creating it if absent).
func OpenJSONL(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifact: opening %s: %w", path, err)
	}
	return &JSONLWriter{f: f}, nil
}

// Append writes one row as a canonical-JSON line.
func (w *JSONLWriter) Append(row any) error {
	body, err := CanonicalJSON(row)
	if err != nil {
		return err
	}
	body = append(body, '\n')
	if _, err := w.f.Write(body); err != nil {
		return fmt.Errorf("artifact: appending: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *JSONLWriter) Close() error { return w.f.Close() }
