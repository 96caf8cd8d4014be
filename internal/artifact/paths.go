package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the full set of artifact locations inside one run
// directory, matching artifacts.py's ArtifactPaths.
type Paths struct {
	RunDir          string
	SpecJSON        string
	ManifestJSON    string
	ReplayTokenJSON string
	AuditJSONL      string
	FillsJSONL      string
	EventsJSONL     string
	MetricsJSON     string
	MarkoutCSV      string
}

// MakeRunDir creates root/{runID}_{timestampUTC} and returns its
// artifact Paths. It fails if the directory already exists, matching
// artifacts.py's make_run_dir(..., exist_ok=False) -- a run directory
// is a write-once audit artifact, never silently reused.
func MakeRunDir(root, runID, timestampUTC string) (Paths, error) {
	abs, err := filepath.Abs(filepath.Join(root, fmt.Sprintf("%s_%s", runID, timestampUTC)))
	if err != nil {
		return Paths{}, err
	}
	if _, err := os.Stat(abs); err == nil {
		return Paths{}, fmt.Errorf("artifact: run directory already exists: %s", abs)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Paths{}, fmt.Errorf("artifact: creating run directory: %w", err)
	}
	return Paths{
		RunDir:          abs,
		SpecJSON:        filepath.Join(abs, "spec.json"),
		ManifestJSON:    filepath.Join(abs, "manifest.json"),
		ReplayTokenJSON: filepath.Join(abs, "replay_token.json"),
		AuditJSONL:      filepath.Join(abs, "audit.jsonl"),
		FillsJSONL:      filepath.Join(abs, "fills.jsonl"),
		EventsJSONL:     filepath.Join(abs, "events.jsonl"),
		MetricsJSON:     filepath.Join(abs, "metrics.json"),
		MarkoutCSV:      filepath.Join(abs, "markout.csv"),
	}, nil
}
