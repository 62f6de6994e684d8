package autobuy_worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	"github.com/rail-service/invest_bot/internal/domain/services/autobuy"
)

// JobName identifies the single daily autobuy job
const JobName = "autobuy_daily"

// JobRunner executes one autobuy run
type JobRunner interface {
	Run(ctx context.Context, opts autobuy.RunOptions) (entities.AutobuyRunReport, error)
}

// Worker owns the cron instance and keeps at most one autobuy entry registered
type Worker struct {
	runner JobRunner
	cron   *cron.Cron
	logger *zap.Logger

	mu          sync.Mutex
	entryID     cron.EntryID
	spec        string
	running     bool
	lastRunDate string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates the scheduler; call Reconcile to register the job and Start to run cron
func NewWorker(runner JobRunner, logger *zap.Logger) *Worker {
	cronLogger := newCronLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		runner: runner,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// CronSpec converts the daily time and timezone to a cron expression
func CronSpec(dailyTime, timezone string) (string, error) {
	hh, mm, ok := strings.Cut(dailyTime, ":")
	if !ok {
		return "", fmt.Errorf("invalid daily time %q", dailyTime)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", dailyTime)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", dailyTime)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", timezone, minute, hour), nil
}

// Reconcile removes any registered job and, when settings are enabled with at
// least one position, registers it again at the configured time
func (w *Worker) Reconcile(settings entities.AutobuySettings) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.entryID != 0 {
		w.cron.Remove(w.entryID)
		w.entryID = 0
		w.spec = ""
	}

	if !settings.Schedulable() {
		w.logger.Info("Autobuy job unscheduled",
			zap.String("job", JobName),
			zap.Bool("enabled", settings.Enabled),
			zap.Int("positions", len(settings.Positions)))
		return nil
	}

	spec, err := CronSpec(settings.DailyTime, settings.Timezone)
	if err != nil {
		return err
	}
	id, err := w.cron.AddFunc(spec, w.fire)
	if err != nil {
		return fmt.Errorf("register %s: %w", JobName, err)
	}
	w.entryID = id
	w.spec = spec

	w.logger.Info("Autobuy job scheduled",
		zap.String("job", JobName),
		zap.String("spec", spec))
	return nil
}

// fire is the cron callback
func (w *Worker) fire() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	report, err := w.runner.Run(w.ctx, autobuy.RunOptions{})
	if err != nil {
		w.logger.Error("Autobuy job failed", zap.String("job", JobName), zap.Error(err))
		return
	}

	w.mu.Lock()
	if !report.Skipped || report.SkipReason == autobuy.SkipAlreadyRan {
		w.lastRunDate = report.Date
	}
	w.mu.Unlock()
}

// State reports the job lifecycle state
func (w *Worker) State() entities.AutobuyJobState {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.running:
		return entities.AutobuyJobStateRunning
	case w.entryID == 0:
		return entities.AutobuyJobStateUnscheduled
	case w.lastRunDate != "":
		return entities.AutobuyJobStateIdle
	default:
		return entities.AutobuyJobStateScheduled
	}
}

// LastRunDate returns the date of the last run this process completed
func (w *Worker) LastRunDate() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRunDate
}

// Spec returns the registered cron expression, empty when unscheduled
func (w *Worker) Spec() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spec
}

// NextRun returns the next fire time of the registered job
func (w *Worker) NextRun() (time.Time, bool) {
	w.mu.Lock()
	id := w.entryID
	w.mu.Unlock()

	if id == 0 {
		return time.Time{}, false
	}
	entry := w.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(time.Now()), true
}

// Start runs the cron scheduler in the background
func (w *Worker) Start() {
	w.cron.Start()
	w.logger.Info("Autobuy worker started", zap.String("job", JobName))
}

// Shutdown stops cron and waits for a running job until ctx expires
func (w *Worker) Shutdown(ctx context.Context) error {
	done := w.cron.Stop().Done()
	defer w.cancel()

	select {
	case <-done:
		w.logger.Info("Autobuy worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("autobuy job still running: %w", ctx.Err())
	}
}
