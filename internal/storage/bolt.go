package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketRecords = "records"

// BoltStore keeps records in an embedded bbolt database. Create runs inside a
// single read-write transaction, so the existence check and the insert are
// atomic with respect to other writers of the same database file.
type BoltStore struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

// OpenBoltStore opens file in the first candidate directory that already
// holds it, or else in the first candidate directory that accepts writes.
func OpenBoltStore(candidates []string, file string, logger *slog.Logger) (*BoltStore, error) {
	if err := validName(file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "bolt_store"))

	var dirs []string
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, file)); err == nil {
			dirs = append([]string{dir}, dirs...)
			continue
		}
		dirs = append(dirs, dir)
	}

	var errs []error
	for _, dir := range dirs {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err != nil {
			if err := ensureWritable(dir); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			logger.Warn("bolt open failed, trying next candidate",
				slog.String("path", path),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if err := db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(bucketRecords))
			return err
		}); err != nil {
			_ = db.Close()
			errs = append(errs, err)
			continue
		}

		logger.Info("bolt store opened", slog.String("path", path))
		return &BoltStore{db: db, path: path, logger: logger}, nil
	}

	return nil, fmt.Errorf("%w for %s: %w", ErrNoWritableLocation, file, errors.Join(errs...))
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) Location(name string) string { return s.path + "#" + name }

func (s *BoltStore) Writable(string) bool { return !s.db.IsReadOnly() }

func (s *BoltStore) Read(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRecords)).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Write(name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRecords)).Put([]byte(name), data)
	})
	if err != nil {
		return "", fmt.Errorf("bolt put %s: %w", name, err)
	}
	return s.Location(name), nil
}

func (s *BoltStore) Create(name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		if b.Get([]byte(name)) != nil {
			return ErrExists
		}
		return b.Put([]byte(name), data)
	})
	if errors.Is(err, ErrExists) {
		return s.Location(name), ErrExists
	}
	if err != nil {
		return "", fmt.Errorf("bolt create %s: %w", name, err)
	}
	return s.Location(name), nil
}

func (s *BoltStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		if b.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(name))
	})
}

// DeleteIf removes the record when its value equals expected, in the same
// transaction as the comparison.
func (s *BoltStore) DeleteIf(name string, expected []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		v := b.Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		if !bytes.Equal(v, expected) {
			return ErrChanged
		}
		return b.Delete([]byte(name))
	})
}
