package autobuy

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/logger"
)

// Scheduler keeps the daily job in line with the saved settings
type Scheduler interface {
	Reconcile(settings entities.AutobuySettings) error
	State() entities.AutobuyJobState
	NextRun() (time.Time, bool)
}

// Status is a point-in-time view of autobuy
type Status struct {
	Settings entities.AutobuySettings `json:"settings"`
	State    entities.AutobuyJobState `json:"state"`
	NextRun  *time.Time               `json:"next_run,omitempty"`
}

// Service implements the autobuy commands
type Service struct {
	store     SettingsStore
	runner    *Runner
	scheduler Scheduler
	logger    *logger.Logger
}

// NewService creates a new autobuy service
func NewService(store SettingsStore, runner *Runner, scheduler Scheduler, logger *logger.Logger) *Service {
	return &Service{
		store:     store,
		runner:    runner,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Enable turns the daily job on
func (s *Service) Enable(ctx context.Context) (entities.AutobuySettings, error) {
	return s.mutate(ctx, "enable", func(doc *entities.AutobuySettings) error {
		doc.Enabled = true
		return nil
	})
}

// Disable turns the daily job off
func (s *Service) Disable(ctx context.Context) (entities.AutobuySettings, error) {
	return s.mutate(ctx, "disable", func(doc *entities.AutobuySettings) error {
		doc.Enabled = false
		return nil
	})
}

// AddPosition adds a ticker or replaces the quantity of an existing one
func (s *Service) AddPosition(ctx context.Context, ticker, qty string) (entities.AutobuySettings, error) {
	pos, err := ParsePosition(ticker, qty)
	if err != nil {
		return entities.AutobuySettings{}, err
	}
	return s.mutate(ctx, "add_position", func(doc *entities.AutobuySettings) error {
		doc.Positions = append(doc.Positions, pos)
		return nil
	})
}

// RemovePosition drops a ticker from the list
func (s *Service) RemovePosition(ctx context.Context, ticker string) (entities.AutobuySettings, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return entities.AutobuySettings{}, domainerrors.ValidationError("ticker", "ticker is required")
	}
	return s.mutate(ctx, "remove_position", func(doc *entities.AutobuySettings) error {
		kept := doc.Positions[:0]
		for _, p := range doc.Positions {
			if p.Ticker != ticker {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(doc.Positions) {
			return domainerrors.NotFoundError("position " + ticker)
		}
		doc.Positions = kept
		return nil
	})
}

// ListPositions returns the configured positions
func (s *Service) ListPositions(ctx context.Context) ([]entities.AutobuyPosition, error) {
	settings, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings.Positions, nil
}

// SetDailyTime changes the HH:MM fire time
func (s *Service) SetDailyTime(ctx context.Context, value string) (entities.AutobuySettings, error) {
	clock, err := ParseDailyTime(value)
	if err != nil {
		return entities.AutobuySettings{}, err
	}
	return s.mutate(ctx, "set_time", func(doc *entities.AutobuySettings) error {
		doc.DailyTime = clock
		return nil
	})
}

// SetTimezone changes the timezone the fire time and the day guard use
func (s *Service) SetTimezone(ctx context.Context, value string) (entities.AutobuySettings, error) {
	tz, err := ValidateTimezone(value)
	if err != nil {
		return entities.AutobuySettings{}, err
	}
	return s.mutate(ctx, "set_timezone", func(doc *entities.AutobuySettings) error {
		doc.Timezone = tz
		return nil
	})
}

// Status returns settings together with the scheduler state
func (s *Service) Status(ctx context.Context) (Status, error) {
	settings, err := s.store.Load()
	if err != nil {
		return Status{}, fmt.Errorf("load settings: %w", err)
	}
	st := Status{Settings: settings, State: s.scheduler.State()}
	if next, ok := s.scheduler.NextRun(); ok {
		st.NextRun = &next
	}
	return st, nil
}

// RunNow starts the job immediately; force bypasses the once-per-day guard.
// The run is detached from ctx cancellation so a command timeout or bot
// shutdown cannot cut the order loop short.
func (s *Service) RunNow(ctx context.Context, force bool) (entities.AutobuyRunReport, error) {
	return s.runner.Run(context.WithoutCancel(ctx), RunOptions{Manual: true, Force: force})
}

// Reconcile aligns the scheduler with the stored settings, used at startup
func (s *Service) Reconcile(ctx context.Context) error {
	settings, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return s.scheduler.Reconcile(settings)
}

// mutate saves the change and then re-registers the daily job
func (s *Service) mutate(ctx context.Context, op string, fn func(doc *entities.AutobuySettings) error) (entities.AutobuySettings, error) {
	settings, err := s.store.Update(fn)
	if err != nil {
		return entities.AutobuySettings{}, err
	}

	s.logger.Info("Autobuy settings changed",
		"op", op,
		"enabled", settings.Enabled,
		"positions", len(settings.Positions),
		"daily_time", settings.DailyTime,
		"timezone", settings.Timezone)

	if err := s.scheduler.Reconcile(settings); err != nil {
		return settings, fmt.Errorf("reschedule autobuy: %w", err)
	}
	return settings, nil
}
