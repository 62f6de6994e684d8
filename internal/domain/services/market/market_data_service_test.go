package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/internal/infrastructure/cache"
	"github.com/rail-service/invest_bot/pkg/retry"
)

var errUpstream = errors.New("upstream down")

// scriptedProvider returns queued errors first and then a board built from the requested symbols
type scriptedProvider struct {
	mu      sync.Mutex
	name    string
	errs    []error
	failAll bool
	calls   int
	lastReq []string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = append([]string(nil), symbols...)

	if p.failAll {
		return entities.QuoteBoard{}, errUpstream
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return entities.QuoteBoard{}, err
	}

	quotes := make([]entities.Quote, 0, len(symbols))
	for i, s := range symbols {
		quotes = append(quotes, entities.Quote{Symbol: s, Price: decimal.NewFromInt(int64(100 + i)), Currency: "RUB"})
	}
	return entities.QuoteBoard{Source: p.name, Quotes: quotes, FetchedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)}, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type serviceFixture struct {
	clock     *clock
	primary   *scriptedProvider
	secondary *scriptedProvider
	sleeps    []time.Duration
	service   *MarketDataService
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		clock:     &clock{now: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)},
		primary:   &scriptedProvider{name: "cbr"},
		secondary: &scriptedProvider{name: "erapi"},
	}
	retrier := retry.NewRetrier(retry.Policy{
		MaxAttempts: 3,
		DelayMin:    time.Second,
		DelayMax:    8 * time.Second,
	}, zap.NewNop(), retry.WithSleeper(func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}))

	f.service = NewMarketDataService(
		map[entities.QuoteKind]Chain{
			entities.QuoteKindCurrency:  {Primary: f.primary, Secondary: f.secondary, Symbols: []string{"USD", "EUR"}},
			entities.QuoteKindCommodity: {Primary: &scriptedProvider{name: "yahoo"}, Symbols: []string{"BZ=F"}},
		},
		cache.NewTTLCache(f.clock.Now),
		60*time.Second,
		retrier,
		cache.NewMemoryStore(),
		zap.NewNop(),
	)
	return f
}

func TestBoard_CachesWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	board, err := f.service.Board(ctx, entities.QuoteKindCurrency, nil)
	require.NoError(t, err)
	assert.Equal(t, "cbr", board.Source)
	assert.Equal(t, entities.QuoteKindCurrency, board.Kind)
	assert.False(t, board.Stale)
	assert.Equal(t, []string{"USD", "EUR"}, f.primary.lastReq)

	f.clock.now = f.clock.now.Add(59 * time.Second)
	_, err = f.service.Board(ctx, entities.QuoteKindCurrency, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.primary.calls)

	f.clock.now = f.clock.now.Add(2 * time.Second)
	_, err = f.service.Board(ctx, entities.QuoteKindCurrency, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.primary.calls)
}

func TestBoard_RetriesPrimary(t *testing.T) {
	f := newFixture(t)
	f.primary.errs = []error{errUpstream, errUpstream}

	board, err := f.service.Board(context.Background(), entities.QuoteKindCurrency, []string{"usd"})
	require.NoError(t, err)
	assert.Equal(t, "cbr", board.Source)
	assert.Equal(t, 3, f.primary.calls)
	assert.Zero(t, f.secondary.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
}

func TestBoard_FallsBackToSecondary(t *testing.T) {
	f := newFixture(t)
	f.primary.failAll = true

	board, err := f.service.Board(context.Background(), entities.QuoteKindCurrency, []string{"USD"})
	require.NoError(t, err)
	assert.Equal(t, "erapi", board.Source)
	assert.Equal(t, 3, f.primary.calls)
	assert.Equal(t, 1, f.secondary.calls)
}

func TestBoard_ServesLastKnownWhenAllSourcesFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh, err := f.service.Board(ctx, entities.QuoteKindCurrency, []string{"USD"})
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(time.Hour)
	f.primary.failAll = true
	f.secondary.failAll = true

	stale, err := f.service.Board(ctx, entities.QuoteKindCurrency, []string{"USD"})
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.Source, stale.Source)
	require.Len(t, stale.Quotes, 1)
	assert.True(t, fresh.Quotes[0].Price.Equal(stale.Quotes[0].Price))
}

func TestBoard_UnavailableWithoutHistory(t *testing.T) {
	f := newFixture(t)
	f.primary.failAll = true
	f.secondary.failAll = true
	ctx := context.Background()

	_, err := f.service.Board(ctx, entities.QuoteKindCurrency, []string{"USD"})
	require.Error(t, err)
	assert.True(t, domainerrors.IsServiceUnavailable(err))

	f.primary.failAll = false
	board, err := f.service.Board(ctx, entities.QuoteKindCurrency, []string{"USD"})
	require.NoError(t, err, "failures must not be cached")
	assert.Equal(t, "cbr", board.Source)
}

func TestBoard_WithoutSecondary(t *testing.T) {
	f := newFixture(t)
	commodities := f.service.chains[entities.QuoteKindCommodity].Primary.(*scriptedProvider)
	commodities.failAll = true

	_, err := f.service.Board(context.Background(), entities.QuoteKindCommodity, nil)
	assert.True(t, domainerrors.IsServiceUnavailable(err))
	assert.Equal(t, 3, commodities.calls)
	assert.Equal(t, []string{"BZ=F"}, commodities.lastReq)
}

func TestBoard_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Board(context.Background(), entities.QuoteKindIndex, nil)
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestBoard_SymbolOrderSharesCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Board(ctx, entities.QuoteKindCurrency, []string{"usd", "EUR", "USD"})
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR"}, f.primary.lastReq)

	_, err = f.service.Board(ctx, entities.QuoteKindCurrency, []string{"EUR", "USD"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.primary.calls)
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"bitcoin"}, normalizeSymbols(entities.QuoteKindCrypto, []string{" Bitcoin ", "bitcoin"}))
	assert.Equal(t, []string{"BZ=F"}, normalizeSymbols(entities.QuoteKindCommodity, []string{"BZ=F", ""}))
	assert.Equal(t, []string{"SBER", "GAZP"}, normalizeSymbols(entities.QuoteKindEquity, []string{"sber", "gazp"}))
}
