/*
Worker - polling drain loop of the partner queue.

PURPOSE:
  Periodically sweeps every enabled tenant: recovers items orphaned in
  Processing by a crashed worker, claims a batch of due items, dispatches
  each to its registered handler, and records the outcome with bounded
  exponential-backoff retries.

GUARANTEES:
  - An item is processed by at most one worker at a time (atomic claim)
  - A handler failure affects only its own item; the batch continues
  - After the attempt ceiling an item parks as Failed and is never
    picked up again without operator intervention
  - Every terminal outcome lands in the processed-operation log
*/
package queue

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// =============================================================================
// WORKER
// =============================================================================

// DefaultStalenessWindow is how long an item may sit in Processing before
// it is presumed orphaned and requeued.
const DefaultStalenessWindow = 10 * time.Minute

type Worker struct {
	store     Store
	registry  *Registry
	defaults  Settings
	backoff   Backoff
	staleness time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	// lastRun tracks per-tenant drain times so tenants with longer poll
	// intervals than the worker tick are not over-polled.
	lastRun map[int64]time.Time
}

type WorkerOption func(*Worker)

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func WithBackoff(b Backoff) WorkerOption {
	return func(w *Worker) { w.backoff = b }
}

func WithStalenessWindow(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.staleness = d
		}
	}
}

func NewWorker(store Store, registry *Registry, defaults Settings, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		registry:  registry,
		defaults:  defaults.clamped(),
		backoff:   DefaultBackoff(),
		staleness: DefaultStalenessWindow,
		now:       time.Now,
		lastRun:   make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats summarizes one drain cycle.
type Stats struct {
	TenantsPolled int
	StaleReleased int
	Claimed       int
	Succeeded     int
	Retried       int
	Failed        int
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start launches the background loop. A tick fires every default poll
// interval; per-tenant intervals are honored inside the cycle.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go w.run()
	log.Printf("[Worker] started (tick %s, batch %d)", w.defaults.PollInterval, w.defaults.BatchSize)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[Worker] stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.defaults.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.RunCycle(context.Background(), false); err != nil {
				log.Printf("[Worker] cycle failed: %v", err)
			}
		}
	}
}

// =============================================================================
// DRAIN CYCLE
// =============================================================================

// RunCycle drains every enabled tenant. With force set, per-tenant poll
// intervals are ignored; the API's manual trigger uses that.
func (w *Worker) RunCycle(ctx context.Context, force bool) (Stats, error) {
	var stats Stats
	tenants, err := w.store.Tenants(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing tenants: %w", err)
	}

	now := w.now().UTC()
	for _, t := range tenants {
		settings := w.defaults.ForTenant(t)
		if !settings.WorkerEnabled {
			continue
		}
		if !w.shouldPoll(t.HotelID, now, settings.PollInterval, force) {
			continue
		}
		stats.TenantsPolled++

		ts, err := w.DrainTenant(ctx, t.HotelID, settings.BatchSize)
		if err != nil {
			// One tenant's storage trouble must not starve the others.
			log.Printf("[Worker] tenant %d drain failed: %v", t.HotelID, err)
			continue
		}
		stats.StaleReleased += ts.StaleReleased
		stats.Claimed += ts.Claimed
		stats.Succeeded += ts.Succeeded
		stats.Retried += ts.Retried
		stats.Failed += ts.Failed
	}
	return stats, nil
}

// shouldPoll consults and records the tenant's last drain time under the
// lock. RunCycle is reachable from both the ticker goroutine and the
// manual drain endpoint, so lastRun must never be touched bare.
func (w *Worker) shouldPoll(hotelID int64, now time.Time, interval time.Duration, force bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !force {
		if last, ok := w.lastRun[hotelID]; ok && now.Sub(last) < interval {
			return false
		}
	}
	w.lastRun[hotelID] = now
	return true
}

// DrainTenant recovers stale items, claims one batch and processes it.
func (w *Worker) DrainTenant(ctx context.Context, hotelID int64, batchSize int) (Stats, error) {
	started := w.now()
	defer func() {
		metricBatchDuration.Observe(w.now().Sub(started).Seconds())
	}()

	var stats Stats
	now := w.now().UTC()

	released, err := w.store.ReleaseStale(ctx, hotelID, now.Add(-w.staleness), now)
	if err != nil {
		return stats, fmt.Errorf("releasing stale items: %w", err)
	}
	if released > 0 {
		metricStaleReleased.Add(float64(released))
		log.Printf("[Worker] tenant %d: requeued %d stale item(s)", hotelID, released)
	}
	stats.StaleReleased = released

	items, err := w.store.ClaimDue(ctx, hotelID, now, batchSize)
	if err != nil {
		return stats, fmt.Errorf("claiming batch: %w", err)
	}
	stats.Claimed = len(items)

	for i := range items {
		switch w.processItem(ctx, items[i]) {
		case outcomeSucceeded:
			stats.Succeeded++
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeFailed
)

// processItem runs one claimed item to a terminal or retrying state. Never
// returns an error: every path records its outcome on the item itself.
func (w *Worker) processItem(ctx context.Context, item Item) outcome {
	err := w.dispatch(ctx, item)
	now := w.now().UTC()

	if err == nil {
		if mErr := w.store.MarkSucceeded(ctx, item.QueueID, now); mErr != nil {
			log.Printf("[Worker] item %s succeeded but status update failed: %v", item.QueueID, mErr)
			return outcomeFailed
		}
		w.appendLog(ctx, item, StatusSucceeded, "processed")
		metricProcessed.WithLabelValues(item.Partner, "succeeded").Inc()
		return outcomeSucceeded
	}

	attempts := item.Attempts + 1
	if IsPermanent(err) || w.backoff.Exhausted(attempts) {
		if mErr := w.store.MarkFailed(ctx, item.QueueID, attempts, err.Error(), now); mErr != nil {
			log.Printf("[Worker] item %s: failed-status update failed: %v", item.QueueID, mErr)
		}
		w.appendLog(ctx, item, StatusFailed, err.Error())
		metricProcessed.WithLabelValues(item.Partner, "failed").Inc()
		log.Printf("[Worker] item %s failed permanently after %d attempt(s): %v", item.QueueID, attempts, err)
		return outcomeFailed
	}

	next := now.Add(w.backoff.Delay(attempts))
	if mErr := w.store.MarkRetrying(ctx, item.QueueID, attempts, err.Error(), next, now); mErr != nil {
		log.Printf("[Worker] item %s: retry-status update failed: %v", item.QueueID, mErr)
	}
	metricProcessed.WithLabelValues(item.Partner, "retried").Inc()
	log.Printf("[Worker] item %s attempt %d failed, next at %s: %v", item.QueueID, attempts, next.Format(time.RFC3339), err)
	return outcomeRetried
}

// dispatch decodes the payload and invokes the handler, converting panics
// into errors so one poisoned item cannot take the loop down.
func (w *Worker) dispatch(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	reg, ok := w.registry.Lookup(item.Partner, item.Operation)
	if !ok {
		// Registered at enqueue time but gone now; retrying cannot help.
		return Permanent(fmt.Errorf("%w: %s/%s", ErrUnknownOperation, item.Partner, item.Operation))
	}
	payload, err := w.registry.Decode(item.Partner, item.Operation, item.Payload)
	if err != nil {
		return Permanent(err)
	}
	return reg.Handle(ctx, item, payload)
}

func (w *Worker) appendLog(ctx context.Context, item Item, status Status, message string) {
	entry := &LogEntry{
		RequestRef: item.RequestRef,
		Partner:    item.Partner,
		Operation:  item.Operation,
		HotelID:    item.HotelID,
		Status:     status,
		Message:    truncate(message, 2000),
		CreatedAt:  w.now().UTC(),
	}
	if err := w.store.AppendLog(ctx, entry); err != nil {
		log.Printf("[Worker] appending log for %s failed: %v", item.RequestRef, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
