package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand substitutes environment variables, resolves a leading "~" or
// "~/" against the home directory, and cleans the result.
func Expand(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}

	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}

	return filepath.Clean(p), nil
}

// homeDir tries os.UserHomeDir, the passwd entry, then $HOME, skipping
// answers that are empty or still tilde-relative.
func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && usableHome(home) {
		return strings.TrimSpace(home), nil
	}
	if current, err := user.Current(); err == nil && usableHome(current.HomeDir) {
		return strings.TrimSpace(current.HomeDir), nil
	}

	env := strings.TrimSpace(os.Getenv("HOME"))
	if env == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !usableHome(env) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", env)
	}
	return env, nil
}

func usableHome(dir string) bool {
	d := strings.TrimSpace(dir)
	return d != "" && d != "~" && !strings.HasPrefix(d, "~/")
}
