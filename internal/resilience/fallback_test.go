package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// backend stands in for an embedding service in the fallback chain.
type backend struct {
	name string
	down bool
}

func newChain(cb CircuitBreakerConfig, backends ...*backend) *FallbackGroup[*backend] {
	fg := NewFallbackGroup(backends[0], backends[0].name, FallbackConfig{CircuitBreaker: cb})
	for _, b := range backends[1:] {
		fg.AddFallback(b.name, b)
	}
	return fg
}

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name      string
		down      []bool
		want      string
		wantTried []string
		wantErr   error
	}{
		{name: "primary healthy", down: []bool{false, false}, want: "ollama", wantTried: []string{"ollama"}},
		{name: "primary down", down: []bool{true, false}, want: "openai", wantTried: []string{"ollama", "openai"}},
		{name: "all down", down: []bool{true, true}, wantTried: []string{"ollama", "openai"}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newChain(CircuitBreakerConfig{MaxFailures: 3},
				&backend{name: "ollama", down: tt.down[0]},
				&backend{name: "openai", down: tt.down[1]},
			)
			if fg.Len() != 2 || fg.Primary().name != "ollama" {
				t.Fatalf("chain = %d entries, primary %q", fg.Len(), fg.Primary().name)
			}

			var tried []string
			got, err := ExecuteWithResult(context.Background(), fg, func(b *backend) (string, error) {
				tried = append(tried, b.name)
				if b.down {
					return "", errTest
				}
				return b.name, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("last backend error not wrapped: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	primary := &backend{name: "ollama", down: true}
	fg := newChain(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
		primary, &backend{name: "openai"})

	calls := map[string]int{}
	run := func() error {
		return fg.Execute(context.Background(), func(b *backend) error {
			calls[b.name]++
			if b.down {
				return errTest
			}
			return nil
		})
	}
	for range 2 {
		if err := run(); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	// The primary recovered but its breaker is still open.
	primary.down = false
	if err := run(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls["ollama"] != 2 || calls["openai"] != 3 {
		t.Errorf("calls = %v, want ollama 2, openai 3", calls)
	}
}

func TestFallbackGroup_CancelledContext(t *testing.T) {
	fg := newChain(CircuitBreakerConfig{}, &backend{name: "ollama"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fg.Execute(ctx, func(*backend) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
