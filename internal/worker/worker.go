// Package worker implements the per-stage worker pool described in
// spec.md §4.5: one poll loop per stage, gated by a concurrency semaphore
// and the live pause flag, claiming work atomically from the store and
// dispatching it to the stage's registered handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/eventlog"
	"contentpipe/internal/handler"
	"contentpipe/internal/limiter"
	"contentpipe/internal/llm"
	"contentpipe/internal/logx"
	"contentpipe/internal/metrics"
	"contentpipe/internal/model"
	"contentpipe/internal/registry"
	"contentpipe/internal/toolloop"
)

// Store is the subset of store.Store the worker pool needs.
type Store interface {
	ClaimPending(ctx context.Context, stage model.Stage, limit int, now, staleCutoff, retryBackoffCutoff time.Time, workerID string) ([]*model.Item, error)
	WriteArtifactAndTransition(ctx context.Context, itemID int64, stage model.Stage, payload string, dir model.Directive, now time.Time, maxRetryAttempts int) error
	ReadPriorArtifacts(ctx context.Context, itemID int64, upToStage model.Stage) (map[model.Stage]string, error)
	GetSetting(ctx context.Context, key string) (string, error)
	GetPause(ctx context.Context, stage model.Stage) (bool, error)
	AppendFallback(ctx context.Context, itemID int64, stage model.Stage, reason model.FallbackReason, detail string, now time.Time) error
}

// defaultBatchSize bounds how many items one poll iteration claims, even
// when the concurrency cap is larger, so a single iteration cannot starve
// the loop's own pause/settings re-check.
const defaultBatchSize = 8

// Pool runs one poll loop per stage in Stages.
type Pool struct {
	store    Store
	registry *registry.Registry
	handlers *handler.Registry
	limiter  *limiter.Limiter
	logger   *logx.Logger
	metrics  *metrics.Registry
	events   *eventlog.Writer

	instanceID string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool. instanceID identifies this process for the
// assigned_to column, so a horizontally scaled deployment (spec.md §9)
// can tell which instance owns a stuck item.
func New(st Store, reg *registry.Registry, handlers *handler.Registry, lim *limiter.Limiter, instanceID string) *Pool {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &Pool{
		store:      st,
		registry:   reg,
		handlers:   handlers,
		limiter:    lim,
		logger:     logx.NewLogger("worker"),
		instanceID: instanceID,
	}
}

// SetMetrics attaches a metrics.Registry the pool records claims,
// transitions, and handler latency against. Optional; a Pool with no
// metrics registry attached simply skips recording.
func (p *Pool) SetMetrics(m *metrics.Registry) { p.metrics = m }

// SetEventLog attaches an eventlog.Writer the pool appends one audit
// record to per claim, transition, and fallback. Optional.
func (p *Pool) SetEventLog(w *eventlog.Writer) { p.events = w }

// Start launches one poll loop per stage. Stop or context cancellation
// ends every loop.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for _, stage := range model.Stages {
		stage := stage
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runStage(ctx, stage)
		}()
	}
}

// Stop signals every poll loop to exit and waits for in-flight items to
// finish their current attempt.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runStage(ctx context.Context, stage model.Stage) {
	workerID := fmt.Sprintf("%s:%s", p.instanceID, stage)
	lastCap := -1

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pollInterval := p.pollInterval(ctx, stage)

		paused, err := p.store.GetPause(ctx, stage)
		if err != nil {
			p.logger.Error("read pause flag for %s: %v", stage, err)
			p.sleep(ctx, pollInterval)
			continue
		}
		if paused {
			p.sleep(ctx, pollInterval)
			continue
		}

		binding, ok := p.registry.Snapshot(stage)
		if !ok {
			p.logger.Warn("no endpoint bound for stage %s, skipping poll", stage)
			p.sleep(ctx, pollInterval)
			continue
		}
		if binding.ConcurrencyCap != lastCap {
			p.limiter.Configure(stage, binding.ConcurrencyCap, binding.DailyBudgetUSD)
			lastCap = binding.ConcurrencyCap
		}

		if p.limiter.BudgetExceeded(stage) {
			p.logger.Warn("stage %s daily budget exhausted (spent $%.2f), refusing new claims until it resets", stage, p.limiter.SpentToday(stage))
			p.sleep(ctx, pollInterval)
			continue
		}

		batchSize := defaultBatchSize
		if binding.ConcurrencyCap < batchSize {
			batchSize = binding.ConcurrencyCap
		}

		releases := make([]func(), 0, batchSize)
		for len(releases) < batchSize {
			release, ok := p.limiter.TryAcquire(stage)
			if !ok {
				break
			}
			releases = append(releases, release)
		}
		if len(releases) == 0 {
			p.sleep(ctx, pollInterval)
			continue
		}

		now := time.Now().UTC()
		retryTimeout := p.durationSetting(ctx, model.SettingRetryTimeoutSeconds, 300)
		stuckThreshold := p.durationMinutesSetting(ctx, model.SettingStuckPostThresholdMinutes, 30)

		items, err := p.store.ClaimPending(ctx, stage, len(releases), now, now.Add(-stuckThreshold), now.Add(-retryTimeout), workerID)
		if err != nil {
			p.logger.Error("claim pending for %s: %v", stage, err)
			for _, release := range releases {
				release()
			}
			p.sleep(ctx, pollInterval)
			continue
		}

		for i, release := range releases {
			if i >= len(items) {
				release()
				continue
			}
			item := items[i]
			if p.metrics != nil {
				p.metrics.ItemsClaimed.WithLabelValues(string(stage)).Inc()
			}
			if p.events != nil {
				if err := p.events.Write(eventlog.Event{ItemID: item.ID, Stage: stage, Kind: "claimed"}); err != nil {
					p.logger.Warn("write claim event for item %d: %v", item.ID, err)
				}
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer release()
				p.processItem(ctx, stage, item, binding)
			}()
		}

		if len(items) == 0 {
			p.sleep(ctx, pollInterval)
		}
	}
}

func (p *Pool) processItem(ctx context.Context, stage model.Stage, item *model.Item, binding model.EndpointBinding) {
	h, err := p.handlers.Get(stage)
	if err != nil {
		p.requeue(ctx, item.ID, stage, err.Error())
		return
	}

	// The hard deadline is the binding's timeout plus a small grace period.
	const handlerGracePeriod = 5 * time.Second
	deadline := binding.Timeout
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline+handlerGracePeriod)
	defer cancel()

	prior, err := p.store.ReadPriorArtifacts(callCtx, item.ID, stage)
	if err != nil {
		p.requeue(ctx, item.ID, stage, fmt.Sprintf("read prior artifacts: %v", err))
		return
	}

	start := time.Now()
	out, err := h.Handle(callCtx, handler.Input{Item: item, PriorArtifacts: prior})
	if p.metrics != nil {
		p.metrics.HandlerDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.handleFailure(ctx, item.ID, stage, err)
		return
	}

	now := time.Now().UTC()
	if out.CostUSD > 0 {
		if err := p.limiter.RecordSpend(stage, now, out.CostUSD); err != nil {
			p.logger.Warn("item %d stage %s: %v", item.ID, stage, err)
		}
	}
	maxAttempts := int(p.intSetting(ctx, model.SettingMaxRetryAttempts, 3))
	if err := p.store.WriteArtifactAndTransition(ctx, item.ID, stage, out.Payload, out.Directive, now, maxAttempts); err != nil {
		p.logger.Error("write result for item %d stage %s: %v", item.ID, stage, err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordTransition(stage, out.Directive.Kind)
	}
	if p.events != nil {
		if err := p.events.Write(eventlog.Event{ItemID: item.ID, Stage: stage, Kind: "transition", Detail: string(out.Directive.Kind)}); err != nil {
			p.logger.Warn("write transition event for item %d: %v", item.ID, err)
		}
	}
}

func (p *Pool) handleFailure(ctx context.Context, itemID int64, stage model.Stage, err error) {
	reason := classifyFailure(err)
	now := time.Now().UTC()
	maxAttempts := int(p.intSetting(ctx, model.SettingMaxRetryAttempts, 3))

	if err := p.store.WriteArtifactAndTransition(ctx, itemID, stage, "{}", model.Retry(err.Error()), now, maxAttempts); err != nil {
		p.logger.Error("retry item %d stage %s: %v", itemID, stage, err)
	}
	if reason != "" {
		if err := p.store.AppendFallback(ctx, itemID, stage, reason, err.Error(), now); err != nil {
			p.logger.Error("append fallback for item %d: %v", itemID, err)
		} else {
			if p.metrics != nil {
				p.metrics.RecordFallback(stage, reason)
			}
			if p.events != nil {
				if writeErr := p.events.Write(eventlog.Event{ItemID: itemID, Stage: stage, Kind: "fallback", Detail: string(reason)}); writeErr != nil {
					p.logger.Warn("write fallback event for item %d: %v", itemID, writeErr)
				}
			}
		}
	}
}

func (p *Pool) requeue(ctx context.Context, itemID int64, stage model.Stage, reason string) {
	now := time.Now().UTC()
	maxAttempts := int(p.intSetting(ctx, model.SettingMaxRetryAttempts, 3))
	if err := p.store.WriteArtifactAndTransition(ctx, itemID, stage, "{}", model.Retry(reason), now, maxAttempts); err != nil {
		p.logger.Error("requeue item %d stage %s: %v", itemID, stage, err)
	}
}

// classifyFailure maps a handler error to a FallbackReason for the audit
// log, following spec.md §7's error taxonomy; handleFailure appends a
// record with that reason for every failed attempt. Returns "" for errors
// outside the taxonomy; those get a fallback record only once retries are
// exhausted (retry_exhausted, inside WriteArtifactAndTransition).
func classifyFailure(err error) model.FallbackReason {
	var transportErr *llm.TransportError
	var deadlineErr *llm.DeadlineError
	var serverErr *llm.ServerError
	var protocolErr *llm.ProtocolError

	switch {
	case errors.As(err, &transportErr):
		return model.FallbackEndpointUnreachable
	case errors.As(err, &deadlineErr):
		return model.FallbackDeadlineExceeded
	case errors.As(err, &serverErr):
		return model.FallbackEndpoint5xx
	case errors.As(err, &protocolErr):
		return model.FallbackModelProtocolError
	case errors.Is(err, toolloop.ErrNoDecision):
		return model.FallbackModelProtocolError
	default:
		return ""
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) pollInterval(ctx context.Context, stage model.Stage) time.Duration {
	seconds := p.intSetting(ctx, model.SettingPollIntervalSecondsPrefix+string(stage), 10)
	return time.Duration(seconds) * time.Second
}

func (p *Pool) durationSetting(ctx context.Context, key string, defaultSeconds int64) time.Duration {
	return time.Duration(p.intSetting(ctx, key, defaultSeconds)) * time.Second
}

func (p *Pool) durationMinutesSetting(ctx context.Context, key string, defaultMinutes int64) time.Duration {
	return time.Duration(p.intSetting(ctx, key, defaultMinutes)) * time.Minute
}

func (p *Pool) intSetting(ctx context.Context, key string, fallback int64) int64 {
	raw, err := p.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.logger.Warn("setting %s has non-integer value %q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}
