package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAProfile means the directory has no relations file.
	ErrNotAProfile = errors.New("not a profile")

	// ErrMissingTable means the table has no file on disk. Callers that only
	// read a table treat this as "never run" and use an empty sequence.
	ErrMissingTable = errors.New("missing table")

	// ErrUnknownRelation means the relations file does not declare the table.
	ErrUnknownRelation = errors.New("unknown relation")
)

// StorageError reports a failed filesystem operation on a profile.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
