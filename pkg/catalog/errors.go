package catalog

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("catalog: store is closed")

// InputError reports a word rejected because required fields are missing or
// the database refused a NULL. It is the caller's fault and never retryable.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "catalog: invalid word: " + e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// ReferentialIntegrityError reports a delete refused because other rows
// still reference the word.
type ReferentialIntegrityError struct {
	ID  int64
	Err error
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("catalog: word %d is still referenced: %v", e.ID, e.Err)
}

func (e *ReferentialIntegrityError) Unwrap() error { return e.Err }

// IsInputError reports whether err is or wraps an [*InputError].
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsReferentialIntegrityError reports whether err is or wraps a
// [*ReferentialIntegrityError].
func IsReferentialIntegrityError(err error) bool {
	var re *ReferentialIntegrityError
	return errors.As(err, &re)
}
