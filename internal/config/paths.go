package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExecutableDir returns the directory holding the running executable, with
// symlinks resolved. Relative configuration paths are anchored here, never at
// the working directory.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// Resolve anchors a relative path at base. Absolute and empty paths are
// returned unchanged.
func Resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

func resolveAll(base string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = Resolve(base, p)
	}
	return out
}

// ResolvePaths anchors every relative path in c at base.
func (c *Config) ResolvePaths(base string) {
	c.Server.WebDir = Resolve(base, c.Server.WebDir)
	c.Logging.FilePath = Resolve(base, c.Logging.FilePath)

	l := &c.License
	l.ArtifactPaths = resolveAll(base, l.ArtifactPaths)
	l.TrialDirs = resolveAll(base, l.TrialDirs)
	l.FallbackDirs = resolveAll(base, l.FallbackDirs)
	l.MirrorPath = Resolve(base, l.MirrorPath)
	l.Delegate.Script = Resolve(base, l.Delegate.Script)
}

// DefaultFallbackDirs is the generic fallback chain used when FallbackDirs is
// empty: app data dir, system temp, alternative temp.
func DefaultFallbackDirs() []string {
	return []string{"/app/data", os.TempDir(), "/var/tmp"}
}

// TrialCandidates returns the ordered directories the trial record may be
// written to: TrialDirs followed by the fallback chain, without duplicates.
func (l LicenseConfig) TrialCandidates() []string {
	fallback := l.FallbackDirs
	if len(fallback) == 0 {
		fallback = DefaultFallbackDirs()
	}

	seen := make(map[string]bool)
	var out []string
	for _, dir := range append(append([]string{}, l.TrialDirs...), fallback...) {
		if dir == "" {
			continue
		}
		clean := filepath.Clean(dir)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}
