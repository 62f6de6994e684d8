package autobuy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/logger"
)

type serviceFixture struct {
	store     *memStore
	scheduler *fakeScheduler
	broker    *fakeBroker
	service   *Service
}

func newServiceFixture() *serviceFixture {
	store := newMemStore(entities.AutobuySettings{})
	scheduler := &fakeScheduler{}
	broker := newFakeBroker()
	runner := NewRunner(store, broker, NewExecutor(broker, sequentialIDs()), &recordingNotifier{},
		func() time.Time { return fixedNow }, logger.NewNop())
	return &serviceFixture{
		store:     store,
		scheduler: scheduler,
		broker:    broker,
		service:   NewService(store, runner, scheduler, logger.NewNop()),
	}
}

func TestService_Positions(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.service.AddPosition(ctx, "sber", "2")
	require.NoError(t, err)
	_, err = f.service.AddPosition(ctx, "gazp", "1")
	require.NoError(t, err)
	doc, err := f.service.AddPosition(ctx, "SBER", "5")
	require.NoError(t, err)

	assert.Equal(t, []entities.AutobuyPosition{{Ticker: "SBER", Qty: 5}, {Ticker: "GAZP", Qty: 1}}, doc.Positions)
	assert.Len(t, f.scheduler.reconciled, 3)

	doc, err = f.service.RemovePosition(ctx, "sber")
	require.NoError(t, err)
	assert.Equal(t, []entities.AutobuyPosition{{Ticker: "GAZP", Qty: 1}}, doc.Positions)

	_, err = f.service.RemovePosition(ctx, "LKOH")
	assert.True(t, domainerrors.IsNotFound(err))
	assert.Len(t, f.scheduler.reconciled, 4, "failed removal must not reschedule")

	positions, err := f.service.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestService_RejectsInvalidInput(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.service.AddPosition(ctx, "SBER", "0")
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = f.service.SetDailyTime(ctx, "25:00")
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = f.service.SetTimezone(ctx, "Mars/Olympus")
	assert.True(t, domainerrors.IsInvalidInput(err))

	assert.Empty(t, f.scheduler.reconciled)
	assert.Zero(t, f.store.updates)
}

func TestService_ScheduleChangesReconcile(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.service.AddPosition(ctx, "SBER", "1")
	require.NoError(t, err)
	doc, err := f.service.Enable(ctx)
	require.NoError(t, err)
	assert.True(t, doc.Schedulable())

	doc, err = f.service.SetDailyTime(ctx, "7:45")
	require.NoError(t, err)
	assert.Equal(t, "07:45", doc.DailyTime)

	doc, err = f.service.SetTimezone(ctx, "Asia/Yekaterinburg")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Yekaterinburg", doc.Timezone)

	last := f.scheduler.reconciled[len(f.scheduler.reconciled)-1]
	assert.Equal(t, "07:45", last.DailyTime)
	assert.Equal(t, "Asia/Yekaterinburg", last.Timezone)

	status, err := f.service.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.AutobuyJobStateScheduled, status.State)
	require.NotNil(t, status.NextRun)

	_, err = f.service.Disable(ctx)
	require.NoError(t, err)
	status, err = f.service.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.AutobuyJobStateUnscheduled, status.State)
	assert.Nil(t, status.NextRun)
}

func TestService_ReconcileErrorIsReturned(t *testing.T) {
	f := newServiceFixture()
	f.scheduler.err = errors.New("bad spec")

	doc, err := f.service.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, doc.Enabled, "settings are saved even when rescheduling fails")
}

func TestService_RunNow(t *testing.T) {
	f := newServiceFixture()
	f.broker.addShare("SBER", "uid-sber")
	ctx := context.Background()

	_, err := f.service.AddPosition(ctx, "SBER", "1")
	require.NoError(t, err)

	report, err := f.service.RunNow(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	report, err = f.service.RunNow(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	report, err = f.service.RunNow(ctx, true)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Len(t, f.broker.orders, 2)
}

func TestService_RunNowIgnoresCallerCancellation(t *testing.T) {
	f := newServiceFixture()
	for _, ticker := range []string{"SBER", "GAZP"} {
		f.broker.addShare(ticker, "uid-"+ticker)
		_, err := f.service.AddPosition(context.Background(), ticker, "1")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.broker.afterOrder = cancel

	report, err := f.service.RunNow(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded())
	assert.Len(t, f.broker.orders, 2)

	doc, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.LastRunDate)
}
