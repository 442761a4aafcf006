package search

import (
	"errors"
	"fmt"
)

// ConsistencyError reports a word that was committed to the catalog but
// whose vector row could not be written. It is a partial success: the word
// exists and is found by exact search, and reconciliation will retry the
// vector write.
type ConsistencyError struct {
	WordID int64
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("search: word %d saved, vector index pending: %v", e.WordID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// IsConsistencyError reports whether err is or wraps a [*ConsistencyError].
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
