// Package analytics buffers SearchEvent writes off the request path and
// serves summary/recent queries over them. Every answer-producing endpoint
// enqueues one event before returning; the enqueue must never block the
// response past a small bound, so writes to the store happen on a
// background goroutine fed by a bounded channel.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

const defaultBufferCapacity = 1024

// Store persists and queries SearchEvent rows.
type Store interface {
	Insert(ctx context.Context, event model.SearchEvent) error
	Summary(ctx context.Context, windowHours int) (*model.AnalyticsSummary, error)
	Recent(ctx context.Context, limit int) ([]model.SearchEvent, error)
}

// DropCounter is notified when the write buffer overflows and an event is
// dropped, so the caller can expose analytics_dropped_total.
type DropCounter interface {
	IncrementAnalyticsDropped()
}

// Recorder buffers SearchEvent writes and flushes them asynchronously.
type Recorder struct {
	store   Store
	buffer  chan model.SearchEvent
	dropped DropCounter // may be nil
	stopCh  chan struct{}
}

// New creates a Recorder and starts its background flush loop. capacity <= 0
// uses a sane default. dropped may be nil to disable drop-count reporting.
func New(store Store, capacity int, dropped DropCounter) *Recorder {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	r := &Recorder{
		store:   store,
		buffer:  make(chan model.SearchEvent, capacity),
		dropped: dropped,
		stopCh:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Stop halts the background flush loop. Buffered events not yet flushed are
// discarded.
func (r *Recorder) Stop() {
	close(r.stopCh)
}

// Record enqueues an event for asynchronous persistence. It never blocks:
// on a full buffer the event is dropped and the drop counter incremented.
func (r *Recorder) Record(event model.SearchEvent) {
	select {
	case r.buffer <- event:
	default:
		slog.Warn("analytics_event_dropped", "method", event.Method, "userId", event.UserID)
		if r.dropped != nil {
			r.dropped.IncrementAnalyticsDropped()
		}
	}
}

func (r *Recorder) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case event := <-r.buffer:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.store.Insert(ctx, event); err != nil {
				slog.Error("analytics_flush_failed", "error", err)
			}
			cancel()
		}
	}
}

// Summary returns aggregate counts/averages for the last windowHours.
func (r *Recorder) Summary(ctx context.Context, windowHours int) (*model.AnalyticsSummary, error) {
	return r.store.Summary(ctx, windowHours)
}

const maxRecentLimit = 500

// Recent returns the last limit rows, newest first, capped at 500.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]model.SearchEvent, error) {
	if limit <= 0 || limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return r.store.Recent(ctx, limit)
}
