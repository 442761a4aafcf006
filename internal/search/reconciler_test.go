package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
)

func TestReconciler_NotifyTriggersPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := search.NewReconciler(f.coord, 0)
	f.coord.SetNotifier(rec)

	f.provider.Err = errors.New("down")
	if _, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: "w", Class: "c", Definition: "d"}); !search.IsConsistencyError(err) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	f.provider.Err = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for f.index.Len() != 1 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("notification did not trigger a reconcile pass")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	rep, ok := rec.LastReport()
	if !ok || rep.Repaired != 1 {
		t.Errorf("LastReport = %+v, %v", rep, ok)
	}
}

func TestReconciler_Interval(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.Err = errors.New("down")
	_, _ = f.coord.AddWord(context.Background(), catalog.NewWord{Text: "w", Class: "c", Definition: "d"})
	f.provider.Err = nil

	rec := search.NewReconciler(f.coord, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	for f.index.Len() != 1 {
		select {
		case <-ctx.Done():
			t.Fatal("periodic pass never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReconciler_NotifyNeverBlocks(t *testing.T) {
	t.Parallel()

	rec := search.NewReconciler(newFixture(t).coord, 0)
	done := make(chan struct{})
	go func() {
		for i := range 100 {
			rec.Notify(int64(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running reconciler")
	}
	if _, ok := rec.LastReport(); ok {
		t.Error("report present before any pass")
	}
}

func TestReconciler_RunOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "a", "b")
	rep, err := search.NewReconciler(f.coord, 0).RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep != (search.Report{Scanned: 2}) {
		t.Errorf("report = %+v", rep)
	}
}
