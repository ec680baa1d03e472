package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/metrics"
)

// ErrUnknownEvent marks an event no dispatcher can handle. Such events fail
// without retry.
var ErrUnknownEvent = errors.New("unknown event type")

// Dispatcher delivers one outbox event. Dispatch must be idempotent: an
// event may be delivered again after a crash between delivery and the
// status update.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *model.OutboxEvent) error
}

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries bounds how many polls may retry an event before it is
	// marked failed.
	MaxRetries int
}

type OutboxProcessor struct {
	repo       repository.OutboxRepository
	tx         repository.Transactor
	dispatcher Dispatcher
	config     OutboxProcessorConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	sleep      func(time.Duration)
	now        func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	tx repository.Transactor,
	dispatcher Dispatcher,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}

	return &OutboxProcessor{
		repo:       repo,
		tx:         tx,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.Named("outbox"),
		metrics:    metrics,
		sleep:      time.Sleep,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessOnce handles one batch of due events and returns how many were
// delivered. Dispatch and its retries run outside any transaction; each
// event is settled on its own.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()
	p.metrics.OutboxQueueSize.Set(float64(len(events)))

	delivered := 0
	var errs []error
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.processEvent(ctx, event)
		if err != nil {
			p.logger.Error(err, "Failed to settle outbox event", "event_id", event.ID.String())
			errs = append(errs, err)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, errors.Join(errs...)
}

// processEvent reports whether the event was delivered. A returned error
// means its status could not be recorded.
func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) (bool, error) {
	err := retry(p.config.RetryAttempts, p.config.RetryDelay, p.sleep, func() error {
		err := p.dispatcher.Dispatch(ctx, event)
		if errors.Is(err, ErrUnknownEvent) {
			return permanent{err}
		}
		return err
	})

	if err == nil {
		p.metrics.OutboxEventsProcessed.Inc()
		if err := p.settle(ctx, event, model.OutboxStatusProcessed, nil, nil); err != nil {
			return false, fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
		}
		return true, nil
	}

	errStr := err.Error()
	var perm permanent
	if errors.As(err, &perm) || event.RetryCount+1 >= p.config.MaxRetries {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(err, "Outbox event failed permanently",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"retry_count", event.RetryCount)
		if updateErr := p.settle(ctx, event, model.OutboxStatusFailed, &errStr, nil); updateErr != nil {
			return false, fmt.Errorf("failed to mark event %s failed: %w", event.ID, updateErr)
		}
		return false, nil
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	retryAt := p.now().Add(p.backoff(event.RetryCount))
	p.logger.Warn("Outbox event scheduled for retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_at", retryAt,
		"error", errStr)
	if updateErr := p.settle(ctx, event, model.OutboxStatusRetry, &errStr, &retryAt); updateErr != nil {
		return false, fmt.Errorf("failed to schedule retry for event %s: %w", event.ID, updateErr)
	}
	return false, nil
}

// settle records the outcome of one event unless another processor has
// already settled it.
func (p *OutboxProcessor) settle(ctx context.Context, event *model.OutboxEvent, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	return p.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := p.repo.GetByID(ctx, event.ID)
		if err != nil {
			return err
		}
		if current.Status == model.OutboxStatusProcessed || current.Status == model.OutboxStatusFailed {
			return nil
		}
		return p.repo.UpdateStatus(ctx, event.ID, status, errorMessage, retryAt)
	})
}

// backoff doubles the retry delay per previous retry, capped at an hour.
func (p *OutboxProcessor) backoff(retries int) time.Duration {
	d := p.config.RetryDelay
	for i := 0; i < retries && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// Cleanup removes processed events older than retention.
func (p *OutboxProcessor) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := p.repo.DeleteProcessedBefore(ctx, p.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up outbox: %w", err)
	}
	p.logger.Info("Cleaned up processed outbox events", "deleted", n)
	return n, nil
}

type permanent struct{ error }

func (p permanent) Unwrap() error { return p.error }

// Helper retry function
func retry(attempts int, delay time.Duration, sleep func(time.Duration), fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return err
		}
		if i < attempts-1 {
			sleep(delay)
		}
	}
	return err
}
