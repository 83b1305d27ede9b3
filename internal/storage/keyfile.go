package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// KeyFileStore writes each record to the first directory of an ordered
// candidate list that accepts a write probe. The directory that took the last
// successful write is remembered per record and used for reads.
type KeyFileStore struct {
	candidates []string
	logger     *slog.Logger

	mu        sync.Mutex
	locations map[string]string
}

// NewKeyFileStore creates a store over the given candidate directories.
// Empty and duplicate entries are dropped; the first remaining entry is the
// configured location.
func NewKeyFileStore(candidates []string, logger *slog.Logger) (*KeyFileStore, error) {
	dirs := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	if len(dirs) == 0 {
		return nil, errors.New("storage: no candidate directories")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KeyFileStore{
		candidates: dirs,
		logger:     logger.With(slog.String("component", "keyfile_store")),
		locations:  make(map[string]string),
	}, nil
}

// Candidates returns the ordered candidate directories.
func (s *KeyFileStore) Candidates() []string {
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Recover adopts, for each name, the first candidate directory that already
// holds the record. It is meant to run once at startup so that a record
// written to a fallback directory by an earlier process stays readable.
func (s *KeyFileStore) Recover(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		for _, dir := range s.candidates {
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			s.locations[name] = dir
			s.logger.Info("recovered record location",
				slog.String("name", name),
				slog.String("dir", dir))
			break
		}
	}
}

// Location returns the path the record is read from.
func (s *KeyFileStore) Location(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.dirFor(name), name)
}

// Writable reports whether the remembered directory currently accepts a write
// probe. Unlike a write, it never creates directories or changes permissions.
func (s *KeyFileStore) Writable(name string) bool {
	s.mu.Lock()
	dir := s.dirFor(name)
	s.mu.Unlock()
	return probe(dir) == nil
}

func (s *KeyFileStore) Read(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := s.Location(name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces the record in the first usable candidate directory.
func (s *KeyFileStore) Write(name string, data []byte) (string, error) {
	return s.put(name, data, false)
}

// Create writes the record only if it does not exist yet. A record that
// already exists at the remembered location, or in any candidate reached
// before a usable one, yields ErrExists.
func (s *KeyFileStore) Create(name string, data []byte) (string, error) {
	return s.put(name, data, true)
}

// Delete removes the record from its remembered location and, best effort,
// any stale copies in other candidate directories. ErrNotFound is returned
// only when no copy existed anywhere.
func (s *KeyFileStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	primary := filepath.Join(s.dirFor(name), name)
	removed := false
	if err := os.Remove(primary); err == nil {
		removed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", primary, err)
	}

	for _, dir := range s.candidates {
		path := filepath.Join(dir, name)
		if path == primary {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed = true
			s.logger.Info("removed stale record copy", slog.String("path", path))
		}
	}

	if !removed {
		return ErrNotFound
	}
	return nil
}

// DeleteIf removes the record at its remembered location when its content
// equals expected. The file is first renamed aside, so content that changed
// in the meantime is linked back in place and ErrChanged is returned.
func (s *KeyFileStore) DeleteIf(name string, expected []byte) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dirFor(name)
	path := filepath.Join(dir, name)
	aside := filepath.Join(dir, "."+name+"."+uuid.NewString()+".old")
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("move aside %s: %w", path, err)
	}

	current, err := os.ReadFile(aside)
	if err == nil && bytes.Equal(current, expected) {
		os.Remove(aside)
		return nil
	}

	s.logger.Warn("record changed before delete, restoring", slog.String("path", path))
	switch err := os.Link(aside, path); {
	case err == nil, errors.Is(err, fs.ErrExist):
		// A record published after the rename wins over the restored one.
		os.Remove(aside)
	default:
		if err := os.Rename(aside, path); err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
	}
	return ErrChanged
}

func (s *KeyFileStore) put(name string, data []byte, exclusive bool) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, dir := range s.order(name) {
		path := filepath.Join(dir, name)

		if exclusive {
			if _, err := os.Stat(path); err == nil {
				s.locations[name] = dir
				return path, ErrExists
			}
		}

		if err := ensureWritable(dir); err != nil {
			s.logger.Debug("candidate directory rejected",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}

		var err error
		if exclusive {
			err = createExclusive(dir, name, data)
		} else {
			err = replace(dir, name, data)
		}
		if errors.Is(err, ErrExists) {
			s.locations[name] = dir
			return path, ErrExists
		}
		if err != nil {
			s.logger.Warn("write failed, trying next candidate",
				slog.String("path", path),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}

		if prev := s.dirFor(name); prev != dir {
			s.logger.Info("record location moved",
				slog.String("name", name),
				slog.String("from", prev),
				slog.String("to", dir))
		}
		s.locations[name] = dir
		return path, nil
	}

	s.logger.Error("record could not be written to any candidate",
		slog.String("name", name),
		slog.Int("candidates", len(s.candidates)))
	return "", fmt.Errorf("%w for %s: %w", ErrNoWritableLocation, name, errors.Join(errs...))
}

// order lists the remembered directory first, then the remaining candidates.
func (s *KeyFileStore) order(name string) []string {
	current := s.dirFor(name)
	dirs := make([]string, 0, len(s.candidates))
	dirs = append(dirs, current)
	for _, dir := range s.candidates {
		if dir != current {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (s *KeyFileStore) dirFor(name string) string {
	if dir, ok := s.locations[name]; ok {
		return dir
	}
	return s.candidates[0]
}

// ensureWritable creates dir when missing, relaxes its permissions when a
// probe write fails, and succeeds only once a probe write goes through.
func ensureWritable(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		info, err = os.Stat(dir)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("stat %s: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("%s: not a directory", dir)
	}

	if err := probe(dir); err == nil {
		return nil
	}

	if err := os.Chmod(dir, info.Mode().Perm()|0o700); err != nil {
		return fmt.Errorf("relax permissions on %s: %w", dir, err)
	}
	if err := probe(dir); err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	return nil
}

func probe(dir string) error {
	path := filepath.Join(dir, ".write_probe_"+uuid.NewString()+".tmp")
	if err := os.WriteFile(path, []byte("probe"), 0o600); err != nil {
		return err
	}
	return os.Remove(path)
}

// writeTemp writes data to a fresh temporary file inside dir so the final
// record only ever appears complete.
func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func replace(dir, name string, data []byte) error {
	tmp, err := writeTemp(dir, name, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// createExclusive publishes a fully written temp file under the final name
// with a hard link, which fails if the name is taken. Filesystems without
// hard links fall back to an O_EXCL create.
func createExclusive(dir, name string, data []byte) error {
	tmp, err := writeTemp(dir, name, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	path := filepath.Join(dir, name)
	err = os.Link(tmp, path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	return writeExclusive(path, data)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
