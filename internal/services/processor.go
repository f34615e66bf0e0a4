package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// AlertProcessor runs matching, trade bookkeeping and delivery for ingested alerts
// on a pool of workers fed by a bounded queue.
type AlertProcessor struct {
	alerts   *AlertService
	matching *MatchingService
	trades   *TradeService
	delivery *DeliveryService

	queue           chan uint
	workers         int
	requeueInterval time.Duration
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          zerolog.Logger
}

// NewAlertProcessor creates a new alert processor
func NewAlertProcessor(alerts *AlertService, matching *MatchingService, trades *TradeService, delivery *DeliveryService, cfg config.ProcessorConfig) *AlertProcessor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.RequeueInterval <= 0 {
		cfg.RequeueInterval = 30 * time.Second
	}
	return &AlertProcessor{
		alerts:          alerts,
		matching:        matching,
		trades:          trades,
		delivery:        delivery,
		queue:           make(chan uint, cfg.QueueSize),
		workers:         cfg.Workers,
		requeueInterval: cfg.RequeueInterval,
		logger:          log.With().Str("component", "processor").Logger(),
	}
}

// Start launches the workers and the requeue loop. They run until ctx is done or Stop is called.
func (p *AlertProcessor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Add(1)
	go p.requeueLoop(ctx)
	p.logger.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.queue)).
		Dur("requeue_interval", p.requeueInterval).
		Msg("alert processor started")
}

// Stop stops taking work and waits for in-flight alerts to finish
func (p *AlertProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("alert processor stopped")
}

// Enqueue schedules an alert without blocking. A full queue drops the id; the alert
// stays received and the requeue loop picks it up on its next tick.
func (p *AlertProcessor) Enqueue(id uint) bool {
	select {
	case p.queue <- id:
		return true
	default:
		p.logger.Warn().Uint("alert_id", id).Msg("processing queue full, alert left for requeue")
		return false
	}
}

func (p *AlertProcessor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			// in-flight alerts are finished even when shutting down
			if err := p.Process(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, ErrInvalidState) {
				p.logger.Error().Err(err).Uint("alert_id", id).Msg("alert processing failed")
			}
		}
	}
}

// requeueLoop periodically puts received alerts back on the queue.
// Ids already queued are harmless: the second claim loses and is skipped.
func (p *AlertProcessor) requeueLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RequeuePending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("failed to requeue received alerts")
			}
		}
	}
}

// Process claims a received alert and runs it. A lost claim returns InvalidStateError.
func (p *AlertProcessor) Process(ctx context.Context, id uint) error {
	if err := p.alerts.MarkProcessing(ctx, id); err != nil {
		return err
	}
	return p.run(ctx, id)
}

// Retry re-runs a failed alert. Recipients already delivered or claimed are not sent again.
func (p *AlertProcessor) Retry(ctx context.Context, id uint) error {
	if err := p.alerts.MarkReprocessing(ctx, id); err != nil {
		return err
	}
	return p.run(ctx, id)
}

// RequeuePending enqueues every alert still in received and returns how many were queued
func (p *AlertProcessor) RequeuePending(ctx context.Context) (int, error) {
	ids, err := p.alerts.ListIDsByStatus(ctx, models.AlertStatusReceived)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if !p.Enqueue(id) {
			break
		}
		queued++
	}
	if len(ids) > 0 {
		p.logger.Info().Int("pending", len(ids)).Int("queued", queued).Msg("requeued received alerts")
	}
	return queued, nil
}

// RecoverInterrupted fails alerts left in processing by a previous run so they can be retried
func (p *AlertProcessor) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := p.alerts.ListIDsByStatus(ctx, models.AlertStatusProcessing)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		if err := p.alerts.MarkFailed(ctx, id, "recover", errors.New("processing interrupted by shutdown")); err != nil {
			p.logger.Warn().Err(err).Uint("alert_id", id).Msg("failed to recover interrupted alert")
			continue
		}
		recovered++
	}
	return recovered, nil
}

// run executes the pipeline on an alert already in processing.
// Only parse and match errors fail the alert; later stages record errors and continue.
func (p *AlertProcessor) run(ctx context.Context, id uint) error {
	logger := p.logger.With().Uint("alert_id", id).Logger()

	alert, err := p.alerts.GetAlert(ctx, id)
	if err != nil {
		return err
	}

	if _, err := p.alerts.ParsePayload(alert.RawPayload); err != nil {
		logger.Warn().Err(err).Msg("stored payload no longer parses")
		return p.fail(ctx, id, "parse", err)
	}

	recipients, err := p.matching.Match(ctx, alert)
	if err != nil {
		return p.fail(ctx, id, "match", err)
	}

	trade, err := p.trades.Apply(ctx, alert)
	if err != nil {
		logger.Error().Err(err).Msg("trade bookkeeping failed")
		p.appendError(ctx, id, "trade", err)
	}

	report, err := p.delivery.Deliver(ctx, alert)
	if err != nil {
		logger.Error().Err(err).Msg("delivery failed")
		p.appendError(ctx, id, "deliver", err)
	}

	// a replayed close was already annotated by the run that recorded it
	if trade != nil && trade.Closed != nil && !trade.Replayed {
		p.delivery.AnnotateClosedTrade(ctx, trade.Closed)
	}

	if err := p.alerts.MarkProcessed(ctx, id); err != nil {
		return err
	}

	event := logger.Info().Int("recipients", len(recipients))
	if report != nil {
		event = event.Int("delivered", report.Delivered).Int("failed", report.Failed+report.Blocked)
	}
	event.Msg("alert processed")
	return nil
}

func (p *AlertProcessor) fail(ctx context.Context, id uint, stage string, cause error) error {
	if err := p.alerts.MarkFailed(ctx, id, stage, cause); err != nil {
		p.logger.Error().Err(err).Uint("alert_id", id).Msg("failed to mark alert failed")
		return err
	}
	return cause
}

func (p *AlertProcessor) appendError(ctx context.Context, id uint, stage string, cause error) {
	if err := p.alerts.AppendError(ctx, id, stage, nil, cause.Error()); err != nil {
		p.logger.Error().Err(err).Uint("alert_id", id).Msg("failed to append alert error")
	}
}
