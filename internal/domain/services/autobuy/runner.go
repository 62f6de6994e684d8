package autobuy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/logger"
	"github.com/rail-service/invest_bot/pkg/metrics"
	"github.com/rail-service/invest_bot/pkg/tracing"
)

var tracer = otel.Tracer("autobuy-service")

// Skip reasons reported by Run
const (
	SkipAlreadyRan  = "already ran today"
	SkipDisabled    = "autobuy is disabled"
	SkipNoPositions = "no positions configured"
)

// SettingsStore persists the autobuy document
type SettingsStore interface {
	Load() (entities.AutobuySettings, error)
	Update(fn func(doc *entities.AutobuySettings) error) (entities.AutobuySettings, error)
}

// Notifier delivers a text message to the operator
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// RunOptions controls one invocation of the daily job
type RunOptions struct {
	// Manual runs are started by a command and ignore the enabled flag
	Manual bool
	// Force bypasses the once-per-day guard
	Force bool
}

// Runner executes the daily autobuy job
type Runner struct {
	store    SettingsStore
	broker   Broker
	executor *Executor
	notifier Notifier
	now      func() time.Time
	logger   *logger.Logger
	mu       sync.Mutex
}

// NewRunner creates a new runner
func NewRunner(store SettingsStore, broker Broker, executor *Executor, notifier Notifier, now func() time.Time, logger *logger.Logger) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:    store,
		broker:   broker,
		executor: executor,
		notifier: notifier,
		now:      now,
		logger:   logger,
	}
}

// Run buys every configured position at most once per calendar day in the
// configured timezone. Per-position failures are captured in the report; a
// failure before the first order or a cancelled ctx aborts the run, sends one
// error notification and leaves last_run_date untouched.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (entities.AutobuyRunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "autobuy.Run",
		trace.WithAttributes(
			attribute.Bool("manual", opts.Manual),
			attribute.Bool("force", opts.Force),
		))
	defer span.End()

	settings, err := r.store.Load()
	if err != nil {
		tracing.RecordError(span, err)
		return r.abort(ctx, r.now().Format(entities.AutobuyDateLayout), fmt.Errorf("load settings: %w", err))
	}

	today := localDate(r.now(), settings.Timezone)
	report := entities.AutobuyRunReport{Date: today}
	span.SetAttributes(attribute.String("date", today))

	switch {
	case !opts.Force && settings.RanOn(today):
		return r.skip(report, SkipAlreadyRan), nil
	case !opts.Manual && !settings.Enabled:
		return r.skip(report, SkipDisabled), nil
	case !settings.HasPositions():
		return r.skip(report, SkipNoPositions), nil
	}

	if !r.broker.HasToken() {
		err := domainerrors.UnauthorizedError("brokerage token is not configured")
		tracing.RecordError(span, err)
		return r.abort(ctx, today, err)
	}

	accountID, err := r.broker.ResolveAccountID(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return r.abort(ctx, today, fmt.Errorf("resolve account: %w", err))
	}
	report.AccountID = accountID

	r.logger.Info("Autobuy run started",
		"date", today,
		"account_id", accountID,
		"positions", len(settings.Positions),
		"manual", opts.Manual)

	report.Results = make([]entities.AutobuyPositionResult, 0, len(settings.Positions))
	for _, pos := range settings.Positions {
		if ctx.Err() != nil {
			break
		}
		res := r.executor.Buy(ctx, accountID, pos)
		if res.OK {
			metrics.AutobuyOrdersTotal.WithLabelValues("ok").Inc()
		} else {
			metrics.AutobuyOrdersTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("Autobuy position failed", "ticker", pos.Ticker, "qty", pos.Qty, "error", res.Error)
		}
		report.Results = append(report.Results, res)
	}

	// A cancelled run did not attempt every position, so the day stays open
	if err := ctx.Err(); err != nil {
		tracing.RecordError(span, err)
		return r.abort(ctx, today, fmt.Errorf("run interrupted after %d of %d positions: %w",
			len(report.Results), len(settings.Positions), err))
	}

	_, persistErr := r.store.Update(func(doc *entities.AutobuySettings) error {
		date := today
		doc.LastRunDate = &date
		doc.LastResults = report.Results
		return nil
	})
	if persistErr != nil {
		tracing.RecordError(span, persistErr)
		r.logger.Error("Failed to persist autobuy results", "date", today, "error", persistErr)
	}

	metrics.AutobuyRunsTotal.WithLabelValues("completed").Inc()
	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded()),
		attribute.Int("failed", report.Failed()))
	r.logger.Info("Autobuy run finished",
		"date", today,
		"succeeded", report.Succeeded(),
		"failed", report.Failed())

	r.notify(ctx, FormatSummary(report))

	if persistErr != nil {
		return report, fmt.Errorf("persist results: %w", persistErr)
	}
	return report, nil
}

func (r *Runner) skip(report entities.AutobuyRunReport, reason string) entities.AutobuyRunReport {
	report.Skipped = true
	report.SkipReason = reason
	metrics.AutobuyRunsTotal.WithLabelValues("skipped").Inc()
	r.logger.Info("Autobuy run skipped", "date", report.Date, "reason", reason)
	return report
}

func (r *Runner) abort(ctx context.Context, date string, err error) (entities.AutobuyRunReport, error) {
	metrics.AutobuyRunsTotal.WithLabelValues("aborted").Inc()
	r.logger.Error("Autobuy run aborted", "date", date, "error", err)
	r.notify(ctx, FormatAbort(date, err))
	return entities.AutobuyRunReport{Date: date}, err
}

func (r *Runner) notify(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(context.WithoutCancel(ctx), text); err != nil {
		r.logger.Warn("Failed to send autobuy notification", "error", err)
	}
}

// localDate formats t as a calendar date in the named timezone.
// An unloadable zone falls back to UTC; settings are normalized so this is not expected.
func localDate(t time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format(entities.AutobuyDateLayout)
}
