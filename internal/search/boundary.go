package search

import (
	"context"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// CreateWord adds a word from its fields. See [Coordinator.AddWord] for the
// error contract.
func (c *Coordinator) CreateWord(ctx context.Context, text, class, definition, example string) (int64, error) {
	return c.AddWord(ctx, catalog.NewWord{
		Text:       text,
		Class:      class,
		Definition: definition,
		Example:    example,
	})
}

// SearchWords returns the words for a free-text query: every word when the
// query is blank, otherwise the results of the configured default mode.
// fragmentRequested marks a partial-page refresh; it is recorded but never
// changes the result.
func (c *Coordinator) SearchWords(ctx context.Context, query string, fragmentRequested bool) ([]catalog.Word, error) {
	mode := c.Settings().DefaultMode
	if catalog.IsBlank(query) {
		mode = ModeExact
	}
	observe.Logger(ctx).Debug("search words",
		"query", query,
		"mode", string(mode),
		"fragment", fragmentRequested)

	results, err := c.Search(ctx, query, mode)
	if err != nil {
		return nil, err
	}
	return Words(results), nil
}
