package store

import (
	"errors"
	"fmt"
)

// MaxEntries is the retention cap for the seen-set. Once exceeded, the
// oldest identifiers are evicted first.
const MaxEntries = 2000

// PersistenceError indicates that a seen-set mutation could not be made
// durable. The identifier must not be treated as seen when this is
// returned.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting seen-set to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err (or any error in its chain) is
// a PersistenceError.
func IsPersistenceError(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr)
}

// SeenStore is the durable set of message identifiers that have already
// been forwarded. Implementations persist every mutation before
// returning from MarkSeen and bound their size to MaxEntries.
type SeenStore interface {
	// Contains reports whether id is currently in the retained set.
	Contains(id string) bool

	// MarkSeen appends id, evicts the oldest entries beyond the cap,
	// and durably persists the updated set. On failure the id is not
	// recorded and a PersistenceError is returned.
	MarkSeen(id string) error

	// Close releases any underlying resources.
	Close() error
}
