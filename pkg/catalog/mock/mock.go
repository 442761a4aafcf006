// Package mock provides an in-memory [catalog.Store] for tests.
//
// Store behaves like the SQL implementations (validation, id order, case
// folded substring search, referential integrity) and additionally lets tests
// inject errors per operation.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/wordhoard/pkg/catalog"
)

var errReferenced = errors.New("word is referenced by challenges")

// Store is an in-memory [catalog.Store].
type Store struct {
	mu         sync.Mutex
	nextID     int64
	words      map[int64]catalog.Word
	referenced map[int64]bool

	// CreateErr, FindErr, GetErr, ListErr, DeleteErr and PingErr, if set,
	// are returned by the corresponding method.
	CreateErr error
	FindErr   error
	GetErr    error
	ListErr   error
	DeleteErr error
	PingErr   error

	// Calls counts method invocations by name.
	Calls map[string]int
}

var _ catalog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		words:      make(map[int64]catalog.Word),
		referenced: make(map[int64]bool),
		Calls:      make(map[string]int),
	}
}

// Reference marks id as referenced by another row; deleting it then fails
// with [*catalog.ReferentialIntegrityError].
func (s *Store) Reference(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referenced[id] = true
}

// Len returns the number of stored words.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.words)
}

// CallCount returns the number of calls to method.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[method]
}

// Create implements [catalog.Store].
func (s *Store) Create(_ context.Context, w catalog.NewWord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Create"]++
	if s.CreateErr != nil {
		return 0, s.CreateErr
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}
	s.nextID++
	now := time.Now().UTC()
	s.words[s.nextID] = catalog.Word{
		ID: s.nextID, Text: w.Text, Class: w.Class, Definition: w.Definition, Example: w.Example,
		CreatedAt: now, UpdatedAt: now,
	}
	return s.nextID, nil
}

// FindBySubstring implements [catalog.Store].
func (s *Store) FindBySubstring(_ context.Context, query string) ([]catalog.Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["FindBySubstring"]++
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	blank := catalog.IsBlank(query)
	needle := catalog.Fold(query)
	out := []catalog.Word{}
	for _, id := range s.sortedIDs() {
		w := s.words[id]
		if blank || strings.Contains(catalog.Fold(w.Text), needle) {
			out = append(out, w)
		}
	}
	return out, nil
}

// Get implements [catalog.Store].
func (s *Store) Get(_ context.Context, ids []int64) ([]catalog.Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Get"]++
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	all := make([]catalog.Word, 0, len(ids))
	for _, id := range ids {
		if w, ok := s.words[id]; ok {
			all = append(all, w)
		}
	}
	return catalog.OrderByIDs(all, ids), nil
}

// List implements [catalog.Store].
func (s *Store) List(_ context.Context, afterID int64, limit int) ([]catalog.Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["List"]++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []catalog.Word{}
	for _, id := range s.sortedIDs() {
		if len(out) >= limit {
			break
		}
		if id > afterID {
			out = append(out, s.words[id])
		}
	}
	return out, nil
}

// Delete implements [catalog.Store].
func (s *Store) Delete(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Delete"]++
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	if _, ok := s.words[id]; !ok {
		return 0, nil
	}
	if s.referenced[id] {
		return 0, &catalog.ReferentialIntegrityError{ID: id, Err: errReferenced}
	}
	delete(s.words, id)
	return 1, nil
}

// Ping implements [catalog.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [catalog.Store].
func (s *Store) Close() error { return nil }

// sortedIDs must be called with s.mu held. Ids are dense from 1, so walking
// the range keeps insertion order without sorting.
func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.words))
	for id := int64(1); id <= s.nextID; id++ {
		if _, ok := s.words[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
