package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/txguard/internal/health"
	"github.com/mbd888/txguard/internal/metrics"
)

// Worker reloads the dataset on an interval and on demand. A failed reload
// keeps serving the previous dataset.
type Worker struct {
	loader   *Loader
	holder   *Holder
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex // serializes reloads
	lastErr error
}

// NewWorker creates a reload worker.
// interval is typically 5 minutes; zero or negative disables periodic reloads.
func NewWorker(loader *Loader, holder *Holder, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		loader:   loader,
		holder:   holder,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the reload loop until ctx is done or Stop is called. The first
// load happens immediately. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	_, _ = w.Reload(ctx)

	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			_, _ = w.Reload(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Reload builds a new dataset and publishes it.
func (w *Worker) Reload(ctx context.Context) (*Dataset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	d, err := w.loader.Load(ctx)
	w.lastErr = err
	if err != nil {
		metrics.SnapshotReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("snapshot reload failed, keeping previous dataset", "error", err)
		return nil, err
	}

	prev := w.holder.Swap(d)
	metrics.SnapshotReloadsTotal.WithLabelValues("success").Inc()
	metrics.SnapshotRecords.Set(float64(d.Registry.Len()))
	metrics.SnapshotGraphNodes.Set(float64(d.Graph.Nodes()))
	metrics.SnapshotGraphEdges.Set(float64(d.Graph.Edges()))

	attrs := []any{
		"version", d.Version,
		"records", d.Registry.Len(),
		"graph_nodes", d.Graph.Nodes(),
		"graph_edges", d.Graph.Edges(),
		"took", time.Since(start).String(),
	}
	if prev != nil && prev.Version == d.Version {
		w.logger.Debug("snapshot reloaded, unchanged", attrs...)
	} else {
		w.logger.Info("snapshot reloaded", attrs...)
	}
	return d, nil
}

// LastError returns the error of the most recent reload attempt.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Interval returns the reload period.
func (w *Worker) Interval() time.Duration {
	return w.interval
}

// HealthCheck reports unhealthy before the first load and when the dataset
// is older than three reload intervals.
func (w *Worker) HealthCheck(now func() time.Time) health.Checker {
	return func(context.Context) health.Status {
		st := health.Status{Name: "snapshot"}
		d := w.holder.Load()
		if d == nil {
			st.Detail = ErrNotLoaded.Error()
			if err := w.LastError(); err != nil {
				st.Detail += ": " + err.Error()
			}
			return st
		}
		age := now().Sub(d.LoadedAt)
		if w.interval > 0 && age > 3*w.interval {
			st.Detail = fmt.Sprintf("dataset %s is stale (loaded %s ago)", d.Version, age.Truncate(time.Second))
			return st
		}
		st.Healthy = true
		st.Detail = d.Version
		return st
	}
}
