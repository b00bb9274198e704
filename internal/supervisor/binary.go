package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openchamber/chamberd/internal/config"
	"github.com/openchamber/chamberd/internal/env"
)

// ResolveBinary locates the opencode CLI. An explicit path wins; the
// fallback searches the login-shell PATH so binaries installed by
// version managers are found even when the daemon was launched outside
// a login shell. Returns "" when disabled or not found.
func ResolveBinary(cfg config.OpenCodeConfig) string {
	if cfg.Disabled {
		return ""
	}

	if cfg.Binary != "" {
		if p := resolveExplicit(cfg.Binary); p != "" {
			return p
		}
		return ""
	}

	return lookupInAugmentedPath("opencode")
}

func resolveExplicit(binary string) string {
	if strings.ContainsRune(binary, os.PathSeparator) {
		if abs, err := filepath.Abs(binary); err == nil {
			if isExecutable(abs) {
				return abs
			}
		}
		return ""
	}
	return lookupInAugmentedPath(binary)
}

func lookupInAugmentedPath(name string) string {
	for _, e := range env.Augmented() {
		path, ok := strings.CutPrefix(e, "PATH=")
		if !ok {
			continue
		}
		for _, dir := range filepath.SplitList(path) {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, name)
			if isExecutable(candidate) {
				return candidate
			}
		}
		break
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
