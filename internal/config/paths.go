package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading ~ to the user's home directory, the way
// shells do for paths that come from config files rather than a shell.
func ResolvePath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
