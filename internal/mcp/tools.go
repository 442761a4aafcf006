package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// Tool names.
const (
	ToolSearchWords = "search_words"
	ToolAddWord     = "add_word"
	ToolDeleteWord  = "delete_word"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        ToolSearchWords,
		Description: "Search the vocabulary. exact matches the word text as a case-insensitive substring, semantic ranks words by meaning, fused returns exact matches first followed by words that are only close in meaning. A blank query lists every word.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Text to search for"},
				"mode": {"type": "string", "enum": ["exact", "semantic", "fused"], "description": "Search mode (default: the server's configured mode)"}
			},
			"required": ["query"]
		}`),
	}, s.instrument(ToolSearchWords, s.handleSearchWords))

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        ToolAddWord,
		Description: "Add a word to the vocabulary. Returns the new word id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"word": {"type": "string", "description": "The word itself"},
				"class": {"type": "string", "description": "Part of speech, e.g. noun or verb"},
				"definition": {"type": "string", "description": "What the word means"},
				"example": {"type": "string", "description": "A sentence using the word"}
			},
			"required": ["word", "class", "definition"]
		}`),
	}, s.instrument(ToolAddWord, s.handleAddWord))

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        ToolDeleteWord,
		Description: "Delete a word by id. Words still used by challenges cannot be deleted.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "integer", "description": "Word id"}
			},
			"required": ["id"]
		}`),
	}, s.instrument(ToolDeleteWord, s.handleDeleteWord))
}

// instrument wraps a handler with tool call metrics.
func (s *Server) instrument(name string, h mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)
		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		s.metrics.RecordToolCall(ctx, name, status, time.Since(start))
		return res, err
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

type searchHit struct {
	ID         int64    `json:"id"`
	Word       string   `json:"word"`
	Class      string   `json:"class"`
	Definition string   `json:"definition"`
	Example    string   `json:"example,omitempty"`
	MatchedBy  []string `json:"matched_by"`
	Distance   *float64 `json:"distance,omitempty"`
}

func (s *Server) handleSearchWords(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args searchArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	mode := s.words.Settings().DefaultMode
	if strings.TrimSpace(args.Mode) != "" {
		m, err := search.ParseMode(args.Mode)
		if err != nil {
			return toolError("%s", describe(err)), nil
		}
		mode = m
	}

	results, err := s.words.Search(ctx, args.Query, mode)
	if err != nil {
		observe.Logger(ctx).Warn("mcp search failed", "mode", string(mode), "err", err)
		return toolError("search failed: %s", describe(err)), nil
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			ID:         r.Word.ID,
			Word:       r.Word.Text,
			Class:      r.Word.Class,
			Definition: r.Word.Definition,
			Example:    r.Word.Example,
			MatchedBy:  r.MatchedBy.Names(),
			Distance:   r.Distance,
		})
	}
	return jsonResult(map[string]any{
		"mode":    mode,
		"count":   len(hits),
		"results": hits,
	})
}

type addArgs struct {
	Word       string `json:"word"`
	Class      string `json:"class"`
	Definition string `json:"definition"`
	Example    string `json:"example"`
}

func (s *Server) handleAddWord(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args addArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	id, err := s.words.CreateWord(ctx, args.Word, args.Class, args.Definition, args.Example)
	switch {
	case err == nil:
		return jsonResult(map[string]any{"id": id})
	case search.IsConsistencyError(err):
		// The word is saved; only its vector row is missing.
		return jsonResult(map[string]any{
			"id":            id,
			"index_pending": true,
			"note":          "saved, but semantic search will not find it until the index is repaired",
		})
	default:
		if !catalog.IsInputError(err) {
			observe.Logger(ctx).Error("mcp add word failed", "err", err)
		}
		return toolError("add failed: %s", describe(err)), nil
	}
}

type deleteArgs struct {
	ID int64 `json:"id"`
}

func (s *Server) handleDeleteWord(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args deleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if args.ID <= 0 {
		return toolError("id must be a positive integer"), nil
	}

	n, err := s.words.DeleteWord(ctx, args.ID)
	if err != nil {
		if !catalog.IsReferentialIntegrityError(err) {
			observe.Logger(ctx).Error("mcp delete word failed", "word_id", args.ID, "err", err)
		}
		return toolError("delete failed: %s", describe(err)), nil
	}
	return jsonResult(map[string]any{"deleted": n})
}

func decodeArgs(req *mcpsdk.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func toolError(format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
