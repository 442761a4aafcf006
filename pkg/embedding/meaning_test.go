package embedding_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/wordhoard/internal/resilience"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings/mock"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings/ollama"
)

func constVec(dims int, v float32) []float32 {
	out := make([]float32, dims)
	for i := range out {
		out[i] = v
	}
	return out
}

func newMockProvider() *mock.Provider {
	return &mock.Provider{
		DimensionsValue: embedding.MeaningDimensions,
		ModelIDValue:    "test-embed",
		EmbedResult:     constVec(embedding.MeaningDimensions, 0.5),
	}
}

func TestNewMeaning_RejectsWrongProviderWidth(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.DimensionsValue = 1536
	if _, err := embedding.NewMeaning(p); err == nil {
		t.Fatal("expected error for 1536-wide provider")
	}
}

func TestNewMeaning_AcceptsUnknownProviderWidth(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.DimensionsValue = 0
	m, err := embedding.NewMeaning(p)
	if err != nil {
		t.Fatalf("NewMeaning: %v", err)
	}
	if m.Dimensions() != embedding.MeaningDimensions {
		t.Errorf("Dimensions() = %d", m.Dimensions())
	}
}

func TestMeaning_ComputesBatch(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	m, err := embedding.NewMeaning(p)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.ComputeSourceEmbeddings(context.Background(), embedding.TextBatch{"a", "b"})
	if err != nil {
		t.Fatalf("ComputeSourceEmbeddings: %v", err)
	}
	if len(out) != 2 || len(out[0]) != embedding.MeaningDimensions {
		t.Fatalf("unexpected shape: %d vectors", len(out))
	}
}

func TestMeaning_Prefixes(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	m, err := embedding.NewMeaning(p,
		embedding.WithDocumentPrefix("search_document: "),
		embedding.WithQueryPrefix("search_query: "),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := m.ComputeSourceEmbeddings(ctx, embedding.TextBatch{"ameliorate"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ComputeQueryEmbeddings(ctx, embedding.TextBatch{"improve"}); err != nil {
		t.Fatal(err)
	}
	if got := p.Calls[0].Texts[0]; got != "search_document: ameliorate" {
		t.Errorf("source text = %q", got)
	}
	if got := p.Calls[1].Texts[0]; got != "search_query: improve" {
		t.Errorf("query text = %q", got)
	}
}

func TestMeaning_EmptyBatchSkipsProvider(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	m, _ := embedding.NewMeaning(p)
	out, err := m.ComputeQueryEmbeddings(context.Background(), embedding.TextBatch{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 || p.CallCount() != 0 {
		t.Errorf("expected no vectors and no calls, got %d vectors, %d calls", len(out), p.CallCount())
	}
}

func TestMeaning_ContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		batch [][]float32
	}{
		{"short vector", [][]float32{constVec(767, 1)}},
		{"long vector", [][]float32{constVec(769, 1)}},
		{"missing vector", [][]float32{}},
		{"extra vector", [][]float32{constVec(768, 1), constVec(768, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newMockProvider()
			p.EmbedBatchResult = tt.batch
			m, _ := embedding.NewMeaning(p)
			_, err := m.ComputeSourceEmbeddings(context.Background(), embedding.TextBatch{"word"})
			if !errors.Is(err, embedding.ErrContractViolation) {
				t.Fatalf("expected ErrContractViolation, got %v", err)
			}
			if embedding.IsComputeError(err) {
				t.Error("contract violation must not be reported as a ComputeError")
			}
		})
	}
}

func TestMeaning_ProviderErrorIsComputeError(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.Err = errors.New("malformed response")
	m, _ := embedding.NewMeaning(p)
	_, err := m.ComputeSourceEmbeddings(context.Background(), embedding.TextBatch{"word"})

	var ce *embedding.ComputeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ComputeError, got %v", err)
	}
	if ce.Function != embedding.MeaningName {
		t.Errorf("Function = %q", ce.Function)
	}
	if ce.Transient {
		t.Error("malformed response should be permanent")
	}
}

func TestMeaning_StatusErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "rate limited", err: &ollama.StatusError{StatusCode: http.StatusTooManyRequests}, transient: true},
		{name: "server error", err: &ollama.StatusError{StatusCode: http.StatusServiceUnavailable}, transient: true},
		{name: "model missing", err: &ollama.StatusError{StatusCode: http.StatusNotFound}, transient: false},
		{name: "bad request", err: &ollama.StatusError{StatusCode: http.StatusBadRequest}, transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newMockProvider()
			p.Err = tt.err
			m, _ := embedding.NewMeaning(p)
			_, err := m.ComputeSourceEmbeddings(context.Background(), embedding.TextBatch{"word"})

			var ce *embedding.ComputeError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ComputeError, got %v", err)
			}
			if ce.Transient != tt.transient {
				t.Errorf("Transient = %v, want %v", ce.Transient, tt.transient)
			}
		})
	}
}

func TestMeaning_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.Block = make(chan struct{})
	defer close(p.Block)

	m, _ := embedding.NewMeaning(p, embedding.WithTimeout(20*time.Millisecond))
	start := time.Now()
	_, err := m.ComputeQueryEmbeddings(context.Background(), embedding.TextBatch{"word"})

	var ce *embedding.ComputeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ComputeError, got %v", err)
	}
	if !ce.Transient {
		t.Error("timeout should be transient")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %v, timeout not enforced", elapsed)
	}
}

func TestMeaning_OpenCircuitFailsFast(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.Err = errors.New("connection refused")
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "meaning",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	m, _ := embedding.NewMeaning(p, embedding.WithCircuitBreaker(cb))
	ctx := context.Background()

	for range 2 {
		_, _ = m.ComputeSourceEmbeddings(ctx, embedding.TextBatch{"w"})
	}
	calls := p.CallCount()

	_, err := m.ComputeSourceEmbeddings(ctx, embedding.TextBatch{"w"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var ce *embedding.ComputeError
	if !errors.As(err, &ce) || !ce.Transient {
		t.Errorf("open circuit should be a transient ComputeError, got %v", err)
	}
	if p.CallCount() != calls {
		t.Error("provider was called while the circuit was open")
	}
}

func TestMeaning_RejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	m, _ := embedding.NewMeaning(p)
	_, err := m.ComputeSourceEmbeddings(context.Background(), embedding.TextBatch{"\xc3\x28"})
	if !errors.Is(err, embedding.ErrUnsupportedInputType) {
		t.Fatalf("expected ErrUnsupportedInputType, got %v", err)
	}
	if p.CallCount() != 0 {
		t.Error("provider should not be called for rejected input")
	}
}
