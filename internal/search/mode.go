package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// Mode selects which stores answer a search.
type Mode string

const (
	// ModeExact matches case-insensitive substrings in the catalog only.
	ModeExact Mode = "exact"

	// ModeSemantic ranks words by meaning-space distance to the query.
	ModeSemantic Mode = "semantic"

	// ModeFused runs both and merges them, exact matches first.
	ModeFused Mode = "fused"
)

// ParseMode parses a mode name case-insensitively. The empty string is
// rejected; callers substitute their default before parsing.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeExact, ModeSemantic, ModeFused:
		return m, nil
	}
	return "", &catalog.InputError{Err: fmt.Errorf("unknown search mode %q (want exact, semantic or fused)", s)}
}

// Signal records which signals matched a result.
type Signal uint8

const (
	// SignalExact means the text contains the query.
	SignalExact Signal = 1 << iota

	// SignalSemantic means the word was among the nearest meaning vectors.
	SignalSemantic
)

// Names returns the signal names set in s, exact first.
func (s Signal) Names() []string {
	names := []string{}
	if s&SignalExact != 0 {
		names = append(names, "exact")
	}
	if s&SignalSemantic != 0 {
		names = append(names, "semantic")
	}
	return names
}

func (s Signal) String() string { return strings.Join(s.Names(), "|") }

// MarshalJSON encodes s as a list of signal names.
func (s Signal) MarshalJSON() ([]byte, error) { return json.Marshal(s.Names()) }

// Result is one search hit.
type Result struct {
	Word      catalog.Word `json:"word"`
	MatchedBy Signal       `json:"matched_by"`

	// Distance is the meaning-space distance. It is nil for words matched
	// only by text.
	Distance *float64 `json:"distance,omitempty"`
}

// Words extracts the words of results in order.
func Words(results []Result) []catalog.Word {
	out := make([]catalog.Word, len(results))
	for i, r := range results {
		out[i] = r.Word
	}
	return out
}
