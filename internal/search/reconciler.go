package search

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Reconciler runs [Coordinator.Reconcile] in the background: on a fixed
// interval, and soon after [Reconciler.Notify] reports a word whose vector
// row is missing. Notifications that arrive during a pass coalesce into one
// follow-up pass.
type Reconciler struct {
	coord    *Coordinator
	interval time.Duration
	kick     chan struct{}
	last     atomic.Pointer[Report]
}

var _ Notifier = (*Reconciler)(nil)

// NewReconciler creates a [Reconciler] for c. An interval <= 0 disables the
// periodic pass; notifications still trigger one.
func NewReconciler(c *Coordinator, interval time.Duration) *Reconciler {
	return &Reconciler{
		coord:    c,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Notify schedules a pass. It never blocks.
func (r *Reconciler) Notify(wordID int64) {
	select {
	case r.kick <- struct{}{}:
		slog.Debug("reconcile scheduled", "word_id", wordID)
	default:
	}
}

// Run processes passes until ctx is cancelled. It always returns nil.
func (r *Reconciler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-r.kick:
		}
		_, _ = r.RunOnce(ctx)
	}
}

// RunOnce performs a single pass and logs its outcome under a fresh run id.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	log := slog.With("run_id", uuid.NewString())
	start := time.Now()
	log.Debug("reconcile started")

	rep, err := r.coord.Reconcile(ctx)
	r.last.Store(&rep)

	attrs := []any{
		"scanned", rep.Scanned,
		"missing", rep.Missing,
		"repaired", rep.Repaired,
		"failed", rep.Failed,
		"duration", time.Since(start),
	}
	switch {
	case err != nil:
		log.Warn("reconcile aborted", append(attrs, "err", err)...)
	case rep.Missing > 0:
		log.Info("reconcile finished", attrs...)
	default:
		log.Debug("reconcile finished", attrs...)
	}
	return rep, err
}

// LastReport returns the report of the most recent pass, if any.
func (r *Reconciler) LastReport() (Report, bool) {
	p := r.last.Load()
	if p == nil {
		return Report{}, false
	}
	return *p, true
}
