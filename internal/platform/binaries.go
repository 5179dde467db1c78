package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveGenerator finds the generator binary. Paths containing a separator
// are resolved relative to workDir, bare names go through PATH.
func ResolveGenerator(binary, workDir string) (string, error) {
	if binary == "" {
		return "", fmt.Errorf("generator binary not configured")
	}

	if !strings.ContainsRune(binary, filepath.Separator) && !strings.Contains(binary, "/") {
		path, err := exec.LookPath(binary)
		if err != nil {
			return "", fmt.Errorf("generator '%s' not found in PATH: %w", binary, err)
		}
		return path, nil
	}

	path := binary
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("generator '%s' not found: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("generator '%s' is a directory", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// PrepareDataDir creates the directory the generator appends its output to.
// The engine opens data/data<id>.plain without creating the directory.
func PrepareDataDir(workDir, dataDir string) error {
	if dataDir == "" {
		return nil
	}
	if !filepath.IsAbs(dataDir) && workDir != "" {
		dataDir = filepath.Join(workDir, dataDir)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
