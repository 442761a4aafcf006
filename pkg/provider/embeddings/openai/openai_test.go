package openai

import (
	"errors"
	"net/http"
	"testing"

	oai "github.com/openai/openai-go"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 0},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

// TestDimensions_Override verifies that WithDimensions takes precedence over
// the native model width.
func TestDimensions_Override(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-small", WithDimensions(768))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want 768", got)
	}
	params := p.params(oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"a"}})
	if !params.Dimensions.Valid() || params.Dimensions.Value != 768 {
		t.Errorf("request dimensions = %+v, want 768", params.Dimensions)
	}
}

func TestDimensions_NoOverrideOmitsParam(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-small")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.params(oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"a"}})
	if params.Dimensions.Valid() {
		t.Errorf("expected dimensions to be omitted, got %+v", params.Dimensions)
	}
}

func TestNew_DimensionsUnsupportedModel(t *testing.T) {
	t.Parallel()

	if _, err := New("sk-test", "text-embedding-ada-002", WithDimensions(768)); err == nil {
		t.Fatal("expected error for ada-002 with custom dimensions")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

// TestCollect_OrdersByIndex verifies that out-of-order API results are
// placed by their reported index.
func TestCollect_OrdersByIndex(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "b", "c"}
	data := []oai.Embedding{
		{Index: 2, Embedding: []float64{3}},
		{Index: 0, Embedding: []float64{1}},
		{Index: 1, Embedding: []float64{2}},
	}
	got, err := collect(texts, data)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if got[i][0] != want {
			t.Errorf("result[%d] = %v, want %v", i, got[i][0], want)
		}
	}
}

func TestCollect_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []oai.Embedding
	}{
		{"short", []oai.Embedding{{Index: 0}}},
		{"out of range", []oai.Embedding{{Index: 0, Embedding: []float64{1}}, {Index: 5, Embedding: []float64{1}}}},
		{"duplicate", []oai.Embedding{{Index: 0, Embedding: []float64{1}}, {Index: 0, Embedding: []float64{2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := collect([]string{"a", "b"}, tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	t.Parallel()

	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: expected %v, got %v", i, float32(in[i]), v)
		}
	}
}

func TestWrapErr_ClassifiesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		err := wrapErr("embed batch", &oai.Error{StatusCode: tt.code})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *APIError", tt.code)
		}
		if apiErr.StatusCode != tt.code || apiErr.Temporary() != tt.want {
			t.Errorf("status %d: Temporary() = %v, want %v", tt.code, apiErr.Temporary(), tt.want)
		}
	}

	var apiErr *APIError
	if errors.As(wrapErr("embed", errors.New("dial tcp: refused")), &apiErr) {
		t.Error("non-API error wrapped as *APIError")
	}
}
