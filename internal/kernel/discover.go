package kernel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"patternpress/internal/logging"
)

// ErrKernelNotFound is returned when no kernel file matches a title.
var ErrKernelNotFound = errors.New("kernel not found")

// FindLatest returns the most recently modified <SafeTitle>_kernel*.json in dir.
func FindLatest(dir, title string) (string, error) {
	safe := SafeTitle(title)
	if safe == "" {
		return "", fmt.Errorf("%w: empty title", ErrKernelNotFound)
	}
	matches, err := filepath.Glob(filepath.Join(dir, safe+"_kernel*.json"))
	if err != nil {
		return "", fmt.Errorf("failed to glob kernels: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no %s_kernel*.json in %s", ErrKernelNotFound, safe, dir)
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = m, info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no readable match for %q", ErrKernelNotFound, title)
	}
	logging.Kernel("Auto-detected kernel for %q: %s", title, filepath.Base(best))
	return best, nil
}

// Discover lists every *_kernel*.json in dir, sorted by name.
func Discover(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_kernel*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob kernels: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// IsKernelFile reports whether a path looks like a kernel file name.
func IsKernelFile(path string) bool {
	ok, _ := filepath.Match("*_kernel*.json", filepath.Base(path))
	return ok
}
