// Package catalog defines the relational word catalog: the authoritative
// store of vocabulary entries, their integer ids, and the substring search
// over their text.
//
// Two implementations exist: [github.com/MrWong99/wordhoard/pkg/catalog/postgres]
// for production and [github.com/MrWong99/wordhoard/pkg/catalog/sqlite] for
// single-file deployments and tests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Word is one catalog row.
type Word struct {
	ID         int64     `json:"id"`
	Text       string    `json:"word"`
	Class      string    `json:"class"`
	Definition string    `json:"definition"`
	Example    string    `json:"example,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewWord holds the caller-supplied fields of a word before it has an id.
type NewWord struct {
	Text       string `json:"word"`
	Class      string `json:"class"`
	Definition string `json:"definition"`
	Example    string `json:"example,omitempty"`
}

// Validate reports every missing required field as a single [*InputError].
// Whitespace-only values count as missing.
func (w NewWord) Validate() error {
	var errs []error
	if strings.TrimSpace(w.Text) == "" {
		errs = append(errs, missing("word"))
	}
	if strings.TrimSpace(w.Class) == "" {
		errs = append(errs, missing("class"))
	}
	if strings.TrimSpace(w.Definition) == "" {
		errs = append(errs, missing("definition"))
	}
	if len(errs) == 0 {
		return nil
	}
	return &InputError{Err: errors.Join(errs...)}
}

func missing(field string) error {
	return fmt.Errorf("%s must not be empty", field)
}

// Store is the word catalog. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts w and returns the assigned id. Ids are positive and
	// strictly increasing in insertion order.
	Create(ctx context.Context, w NewWord) (int64, error)

	// FindBySubstring returns every word whose text contains query,
	// compared after [Fold] on both sides (so "STRASSE" finds "Straße"),
	// ordered by id. A blank query returns every word.
	FindBySubstring(ctx context.Context, query string) ([]Word, error)

	// Get returns the words with the given ids in the order requested.
	// Unknown ids are skipped.
	Get(ctx context.Context, ids []int64) ([]Word, error)

	// List returns up to limit words with id greater than afterID, ordered
	// by id.
	List(ctx context.Context, afterID int64, limit int) ([]Word, error)

	// Delete removes the word and returns the number of rows removed (0 or
	// 1). A word still referenced by other rows is not removed and a
	// [*ReferentialIntegrityError] is returned.
	Delete(ctx context.Context, id int64) (int64, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources.
	Close() error
}

// IsBlank reports whether a search query should list every word.
func IsBlank(query string) bool {
	return strings.TrimSpace(query) == ""
}

// Fold returns the Unicode case-folded form of s, the comparison key used
// for substring search.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// OrderByIDs arranges words in the order of ids, skipping ids with no word.
// Duplicate ids yield the word once, at its first position.
func OrderByIDs(words []Word, ids []int64) []Word {
	byID := make(map[int64]Word, len(words))
	for _, w := range words {
		byID[w.ID] = w
	}
	out := make([]Word, 0, len(ids))
	for _, id := range ids {
		w, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, w)
		delete(byID, id)
	}
	return out
}
