package storage

import (
	"errors"
	"fmt"
)

var errMissingID = errors.New("record has no post id")

// PersistenceError reports a failed document store operation
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
