package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record is absent at its remembered location.
	ErrNotFound = errors.New("storage: record not found")
	// ErrExists is returned by Create when the record already exists.
	ErrExists = errors.New("storage: record already exists")
	// ErrChanged is returned by DeleteIf when the record no longer holds the
	// expected content.
	ErrChanged = errors.New("storage: record changed")
	// ErrNoWritableLocation is returned when every candidate location failed.
	ErrNoWritableLocation = errors.New("storage: no writable location")
)

// Store persists small named records.
//
// Write replaces a record unconditionally. Create only succeeds when the
// record does not exist yet, so concurrent creators observe exactly one
// winner. Read never searches for a record: it reads from the location of the
// last successful write. DeleteIf removes a record only while it still holds
// the expected bytes, which lets a caller clear a bad record without losing
// one another writer has just created.
type Store interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) (string, error)
	Create(name string, data []byte) (string, error)
	Delete(name string) error
	DeleteIf(name string, expected []byte) error
	Location(name string) string
	Writable(name string) bool
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("storage: invalid record name %q", name)
	}
	return nil
}
