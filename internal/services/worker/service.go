package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/events"
)

const (
	// claimRetryDelay spaces claim attempts after a storage error so a
	// bad badger state cannot spin the loop.
	claimRetryDelay = 5 * time.Second

	// settleTimeout bounds the queue writes that record an item's
	// outcome. Settles run on a background context because they must
	// land even while the pool is shutting down.
	settleTimeout = 10 * time.Second

	// drainTimeout bounds the final wait after the grace window forces
	// in-flight contexts closed.
	drainTimeout = 5 * time.Second

	defaultGrace = 30 * time.Second
)

// Pool drains the queue: it claims batches of PENDING items, fans them
// out to the item processor with bounded parallelism, and settles each
// outcome through the queue manager. Queue settings are re-read every
// cycle so runtime tuning applies without a restart.
type Pool struct {
	queue     interfaces.QueueManager
	processor interfaces.ItemProcessor
	settings  interfaces.SettingsService
	events    interfaces.EventService
	logger    arbor.ILogger
	grace     time.Duration

	mu         sync.Mutex
	running    bool
	loopCancel context.CancelFunc
	workCancel context.CancelFunc
	done       chan struct{}
	inFlight   atomic.Int64
}

// NewPool creates a worker pool. grace caps how long Stop waits for
// in-flight items before cancelling their contexts.
func NewPool(queue interfaces.QueueManager, processor interfaces.ItemProcessor, settings interfaces.SettingsService, eventService interfaces.EventService, grace time.Duration, logger arbor.ILogger) interfaces.WorkerPool {
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Pool{
		queue:     queue,
		processor: processor,
		settings:  settings,
		events:    eventService,
		logger:    logger,
		grace:     grace,
	}
}

// Start launches the claim loop. Calling Start on a running pool is a
// no-op.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	// Two contexts: the loop context stops claiming immediately on
	// Stop, the work context keeps in-flight items alive until the
	// grace window expires.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())

	p.loopCancel = loopCancel
	p.workCancel = workCancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(loopCtx, workCtx)

	p.logger.Info().
		Dur("shutdown_grace", p.grace).
		Msg("Worker pool started")
	return nil
}

// Stop halts claiming and waits up to the grace window for in-flight
// items. Items still running after the window are abandoned to
// stale-lease recovery.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	loopCancel := p.loopCancel
	workCancel := p.workCancel
	done := p.done
	p.mu.Unlock()

	loopCancel()

	select {
	case <-done:
	case <-time.After(p.grace):
		p.logger.Warn().
			Int64("in_flight", p.inFlight.Load()).
			Msg("Shutdown grace expired, cancelling in-flight items")
		workCancel()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			p.logger.Error().
				Int64("in_flight", p.inFlight.Load()).
				Msg("Worker goroutines did not exit, leases will recover abandoned items")
		}
	}

	workCancel()
	p.logger.Info().Msg("Worker pool stopped")
	return nil
}

// InFlight reports the number of items currently being processed.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// run is the claim loop. loopCtx gates claiming and sleeping; workCtx
// gates the items themselves.
func (p *Pool) run(loopCtx, workCtx context.Context) {
	defer close(p.done)

	for {
		if loopCtx.Err() != nil {
			p.logger.Debug().Msg("Worker loop stopped")
			return
		}

		qs := p.queueSettings(loopCtx)

		items, err := p.queue.Claim(loopCtx, qs.BatchSize)
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Msg("Claim failed")
			if !p.sleep(loopCtx, claimRetryDelay) {
				return
			}
			continue
		}

		if len(items) == 0 {
			p.publishStats(loopCtx)
			if !p.sleep(loopCtx, qs.PollInterval()) {
				return
			}
			continue
		}

		p.logger.Debug().
			Int("claimed", len(items)).
			Int("parallelism", qs.Parallelism).
			Msg("Processing claimed batch")

		g := new(errgroup.Group)
		g.SetLimit(qs.Parallelism)
		for _, item := range items {
			if loopCtx.Err() != nil {
				// Unstarted items keep their lease; stale recovery
				// releases them without charging a retry.
				break
			}
			it := item
			g.Go(func() error {
				p.processItem(workCtx, it, qs.Lease())
				return nil
			})
		}
		_ = g.Wait()

		p.publishStats(workCtx)
	}
}

// processItem runs one claimed item through the processor and records
// the outcome.
func (p *Pool) processItem(ctx context.Context, item *models.QueueItem, timeout time.Duration) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	p.publish(ctx, interfaces.EventItemStarted, events.ItemStartedPayload{
		ItemID: item.ID,
		Type:   item.Type,
		URL:    item.URL,
	})

	start := time.Now()
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	resultMessage, procErr := p.processor.Process(itemCtx, item)
	cancel()
	duration := time.Since(start)

	if procErr != nil && errors.Is(procErr, context.Canceled) {
		// Shutdown interrupted the item mid-flight. Leave the lease in
		// place so stale recovery releases it without charging a retry.
		p.logger.Debug().
			Str("item_id", item.ID).
			Msg("Item interrupted by shutdown")
		return
	}

	// Settle on a background context: outcomes of items that ran must
	// land even when the pool context is already cancelled.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), settleTimeout)
	defer settleCancel()

	if procErr != nil {
		if err := p.queue.Fail(settleCtx, item.ID, procErr); err != nil {
			p.logger.Error().Err(err).
				Str("item_id", item.ID).
				Msg("Failed to record item failure")
			return
		}
	} else {
		if err := p.queue.Complete(settleCtx, item.ID, models.StatusSuccess, resultMessage, nil); err != nil {
			p.logger.Error().Err(err).
				Str("item_id", item.ID).
				Msg("Failed to record item completion")
			return
		}
	}

	final, err := p.queue.Get(settleCtx, item.ID)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("item_id", item.ID).
			Msg("Failed to load settled item")
		return
	}

	p.publish(settleCtx, interfaces.EventItemFinished, events.ItemFinishedPayload{
		ItemID:     final.ID,
		Type:       final.Type,
		URL:        final.URL,
		Status:     final.Status,
		Message:    final.ResultMessage,
		RetryCount: final.RetryCount,
		Duration:   duration,
	})

	evt := p.logger.Info()
	if final.Status == models.StatusFailed {
		evt = p.logger.Warn()
	}
	evt.Str("item_id", final.ID).
		Str("type", string(final.Type)).
		Str("status", string(final.Status)).
		Dur("duration", duration).
		Msg("Item processed")
}

func (p *Pool) queueSettings(ctx context.Context) models.QueueSettings {
	qs, err := p.settings.QueueSettings(ctx)
	if err != nil || qs == nil {
		return models.DefaultQueueSettings()
	}
	return *qs
}

func (p *Pool) publishStats(ctx context.Context) {
	if p.events == nil {
		return
	}
	stats, err := p.queue.Stats(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Failed to read queue stats")
		return
	}
	p.publish(ctx, interfaces.EventQueueStats, events.QueueStatsPayload{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Success:    stats.Success,
		Failed:     stats.Failed,
		Skipped:    stats.Skipped,
	})
}

func (p *Pool) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		p.logger.Debug().Err(err).
			Str("event", string(eventType)).
			Msg("Event publish failed")
	}
}

// sleep waits for d or until ctx is cancelled. It reports whether the
// full duration elapsed.
func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
