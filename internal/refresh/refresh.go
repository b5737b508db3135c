// Package refresh coordinates the incremental refresh cycle that keeps the
// event cache synchronized with the source: scrape, merge, retire,
// mark-complete.
//
// The orchestrator guarantees that at most one cycle runs at a time, that a
// failed cycle never removes previously cached data (partial upserts are
// kept, retirement is skipped), and that new events are fetched before
// updates to already-cached ones.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smoothcal/internal/event"
	"smoothcal/internal/logger"
)

// Source lists event page URLs and extracts per-page events. A listing
// error aborts the cycle; a detail error only skips that page.
type Source interface {
	ListEventURLs(ctx context.Context) ([]string, error)
	EventDetail(ctx context.Context, url string) (*event.Event, error)
}

// Store is the durable cache surface the orchestrator mutates.
type Store interface {
	ExistingIDs(ctx context.Context) (map[string]struct{}, error)
	Upsert(ctx context.Context, evt *event.Event, refreshTime time.Time) error
	RetireStale(ctx context.Context, refreshTime time.Time) (retiredByAge, retiredByDate int64, err error)
	MarkRefreshComplete(ctx context.Context) error
	IsStale(ctx context.Context) (bool, error)
}

// Orchestrator runs refresh cycles with single-flight execution.
type Orchestrator struct {
	source Source
	store  Store
	delay  time.Duration

	mu      sync.Mutex
	running bool

	now func() time.Time
}

// New creates an Orchestrator. delay is the fixed pause applied after each
// detail-page fetch to bound load on the source.
func New(source Source, store Store, delay time.Duration) *Orchestrator {
	return &Orchestrator{
		source: source,
		store:  store,
		delay:  delay,
		now:    time.Now,
	}
}

// InProgress reports whether a refresh cycle is currently running.
func (o *Orchestrator) InProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// tryStart acquires the single-flight guard. Returns false when a cycle is
// already in flight.
func (o *Orchestrator) tryStart() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// RunCycle runs one incremental refresh cycle. If a cycle is already in
// flight the call is a silent no-op. On failure, partial progress persists:
// events upserted so far are kept, and retirement and the completion marker
// are both skipped so the next staleness check retries.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.tryStart() {
		logger.Debug("Refresh already in progress, skipping trigger", nil)
		return nil
	}
	defer o.finish()

	refreshTime := o.now().UTC()

	existing, err := o.store.ExistingIDs(ctx)
	if err != nil {
		logger.Error("Refresh aborted reading cached ids", nil, err)
		return fmt.Errorf("reading existing ids: %w", err)
	}

	urls, err := o.source.ListEventURLs(ctx)
	if err != nil {
		logger.Error("Refresh aborted fetching event listing", nil, err)
		return fmt.Errorf("listing events: %w", err)
	}

	q := NewQueue(urls, existing)
	logger.Info("Refresh started", logger.Fields{
		"existing_events": len(existing),
		"listed_urls":     q.Len(),
		"new_first":       q.NewCount(),
	})

	var newCount, updatedCount, skipped int
	for i, url := range q.URLs() {
		evt, err := o.source.EventDetail(ctx, url)
		if err != nil {
			skipped++
			logger.Warn("Event page skipped", logger.Fields{"url": url, "reason": err.Error()})
		} else {
			if err := o.store.Upsert(ctx, evt, refreshTime); err != nil {
				logger.Error("Refresh aborted on store write", logger.Fields{
					"event_id": evt.ID,
					"new":      newCount,
					"updated":  updatedCount,
				}, err)
				return fmt.Errorf("upserting event %s: %w", evt.ID, err)
			}
			if q.IsNew(i) {
				newCount++
			} else {
				updatedCount++
			}
		}

		// Fixed delay after every fetch, success or not.
		if err := o.pause(ctx); err != nil {
			logger.Error("Refresh interrupted", logger.Fields{
				"processed": i + 1,
				"total":     q.Len(),
			}, err)
			return err
		}

		if (i+1)%50 == 0 || i+1 == q.Len() {
			logger.Info("Refresh progress", logger.Fields{
				"processed": i + 1,
				"total":     q.Len(),
				"new":       newCount,
				"updated":   updatedCount,
				"skipped":   skipped,
			})
		}
	}

	retiredByAge, retiredByDate, err := o.store.RetireStale(ctx, refreshTime)
	if err != nil {
		logger.Error("Refresh aborted during retirement", nil, err)
		return fmt.Errorf("retiring stale events: %w", err)
	}

	if err := o.store.MarkRefreshComplete(ctx); err != nil {
		logger.Error("Refresh aborted marking completion", nil, err)
		return fmt.Errorf("marking refresh complete: %w", err)
	}

	logger.IncrCounter("refresh.cycles")
	logger.AddCounter("refresh.new_events", int64(newCount))
	logger.AddCounter("refresh.updated_events", int64(updatedCount))
	logger.AddCounter("refresh.skipped_pages", int64(skipped))

	logger.Info("Refresh complete", logger.Fields{
		"new":             newCount,
		"updated":         updatedCount,
		"skipped":         skipped,
		"retired_by_age":  retiredByAge,
		"retired_by_date": retiredByDate,
	})
	return nil
}

// pause applies the post-fetch rate-limit delay, honoring cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaybeRefresh starts a background cycle when the cache is stale. It returns
// immediately; a cycle already in flight or a fresh cache makes it a no-op.
func (o *Orchestrator) MaybeRefresh(ctx context.Context) {
	if o.InProgress() {
		return
	}

	stale, err := o.store.IsStale(ctx)
	if err != nil {
		logger.Error("Staleness check failed", nil, err)
		return
	}
	if !stale {
		return
	}

	go func() {
		// Detached from the triggering request's lifetime.
		if err := o.RunCycle(context.Background()); err != nil {
			logger.Error("Background refresh failed", nil, err)
		}
	}()
}
