package runner

import (
	"os/exec"
	"strings"
)

// gitInfo best-effort reports the current commit SHA and whether the
// working tree has uncommitted changes. Both are nil/false when the
// run root is not inside a git checkout (e.g. a packaged release
// binary run against a bare snapshot directory) -- this is never a
// fatal condition, only an omitted manifest field, matching the
// original's _git_info, which swallows the same failure mode.
func gitInfo(dir string) (sha *string, dirty bool) {
	out, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, false
	}
	s := strings.TrimSpace(out)
	if s == "" {
		return nil, false
	}

	status, err := runGit(dir, "status", "--porcelain")
	if err == nil && strings.TrimSpace(status) != "" {
		dirty = true
	}
	return &s, dirty
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}
