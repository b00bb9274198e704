// Package env builds the environment for the supervised process. The
// desktop app is typically launched outside any login shell, so
// version-managed toolchains (nvm, mise, asdf) are missing from PATH;
// the spawn environment merges the login shell's PATH ahead of the
// inherited one.
package env

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Augmented returns the inherited environment with PATH replaced by the
// login-shell PATH merged ahead of the current one. Falls back to the
// plain inherited environment when shell resolution fails.
func Augmented() []string {
	base := os.Environ()
	loginPath, err := loginShellPath()
	if err != nil {
		return base
	}

	out := make([]string, 0, len(base))
	replaced := false
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+MergePaths(loginPath, kv[len("PATH="):]))
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, "PATH="+loginPath)
	}
	return out
}

// MergePaths joins two colon-separated PATH lists, login segments
// first, dropping empty and duplicate entries while preserving order.
func MergePaths(login, current string) string {
	var segments []string
	seen := make(map[string]struct{})
	for _, part := range append(strings.Split(login, ":"), strings.Split(current, ":")...) {
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		segments = append(segments, part)
	}
	return strings.Join(segments, ":")
}

func loginShellPath() (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/zsh"
	}
	// -lic makes the shell behave as an interactive login shell so
	// profile-managed PATH entries are applied.
	out, err := exec.Command(shell, "-lic", "echo -n $PATH").Output()
	if err != nil {
		return "", fmt.Errorf("login shell PATH detection: %w", err)
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("login shell reported empty PATH")
	}
	return path, nil
}
