// Package web is the JSON HTTP boundary of wordhoard.
//
//	GET    /words?search=q          list or search words (HX-Target aware)
//	GET    /words/search?q=&mode=   search with match signals and distances
//	POST   /words                   add a word (JSON or form body)
//	DELETE /words/{id}              delete a word
//
// Errors are mapped to status codes here and nowhere else: invalid input is
// 400, a word still referenced by challenges is 409, and a word saved without
// its vector row is a 202 with "index_pending".
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/embedding"
)

// FragmentTarget is the HX-Target value that asks for the bare list used to
// refresh part of a page.
const FragmentTarget = "words-list"

// maxBodyBytes limits POST bodies.
const maxBodyBytes = 1 << 20

// Words is the part of [search.Coordinator] the handlers need.
type Words interface {
	CreateWord(ctx context.Context, text, class, definition, example string) (int64, error)
	SearchWords(ctx context.Context, query string, fragmentRequested bool) ([]catalog.Word, error)
	Search(ctx context.Context, query string, mode search.Mode) ([]search.Result, error)
	DeleteWord(ctx context.Context, id int64) (int64, error)
	Settings() search.Settings
}

// Server serves the word routes.
type Server struct {
	words Words
}

// New creates a [Server] backed by words.
func New(words Words) *Server {
	return &Server{words: words}
}

// Register adds the word routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /words", s.handleList)
	mux.HandleFunc("GET /words/search", s.handleSearch)
	mux.HandleFunc("POST /words", s.handleCreate)
	mux.HandleFunc("DELETE /words/{id}", s.handleDelete)
}

// Handler returns a mux serving only the word routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type listResponse struct {
	Words []catalog.Word `json:"words"`
	Count int            `json:"count"`
}

type searchResponse struct {
	Mode    search.Mode     `json:"mode"`
	Results []search.Result `json:"results"`
	Count   int             `json:"count"`
}

type createResponse struct {
	ID           int64 `json:"id"`
	IndexPending bool  `json:"index_pending,omitempty"`
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleList handles GET /words?search=q.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	fragment := r.Header.Get("HX-Target") == FragmentTarget
	words, err := s.words.SearchWords(r.Context(), r.URL.Query().Get("search"), fragment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fragment {
		writeJSON(w, http.StatusOK, words)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Words: words, Count: len(words)})
}

// handleSearch handles GET /words/search?q=&mode=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := s.words.Settings().DefaultMode
	if raw := q.Get("mode"); raw != "" {
		m, err := search.ParseMode(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		mode = m
	}
	results, err := s.words.Search(r.Context(), q.Get("q"), mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Mode: mode, Results: results, Count: len(results)})
}

// handleCreate handles POST /words.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var nw catalog.NewWord
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&nw); err != nil {
			writeError(w, r, &catalog.InputError{Err: fmt.Errorf("invalid JSON body: %w", err)})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, &catalog.InputError{Err: fmt.Errorf("invalid form body: %w", err)})
			return
		}
		nw = catalog.NewWord{
			Text:       r.PostForm.Get("word"),
			Class:      r.PostForm.Get("class"),
			Definition: r.PostForm.Get("definition"),
			Example:    r.PostForm.Get("example"),
		}
	}

	id, err := s.words.CreateWord(r.Context(), nw.Text, nw.Class, nw.Definition, nw.Example)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, createResponse{ID: id})
	case search.IsConsistencyError(err):
		writeJSON(w, http.StatusAccepted, createResponse{ID: id, IndexPending: true})
	default:
		writeError(w, r, err)
	}
}

// handleDelete handles DELETE /words/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, &catalog.InputError{Err: fmt.Errorf("invalid word id %q", r.PathValue("id"))})
		return
	}
	n, err := s.words.DeleteWord(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

// StatusFor maps an error from the core to an HTTP status.
func StatusFor(err error) int {
	switch {
	case catalog.IsInputError(err), errors.Is(err, embedding.ErrUnsupportedInputType):
		return http.StatusBadRequest
	case catalog.IsReferentialIntegrityError(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
