package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/internal/infrastructure/cache"
	"github.com/rail-service/invest_bot/pkg/metrics"
	"github.com/rail-service/invest_bot/pkg/retry"
	"github.com/rail-service/invest_bot/pkg/tracing"
)

var tracer = otel.Tracer("market-service")

// Metric sources
const (
	SourceCache     = "cache"
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceLastKnown = "last_known"
	SourceError     = "error"
)

// Provider fetches a board of quotes from one upstream
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error)
}

// Chain is the provider setup for one quote kind
type Chain struct {
	Primary   Provider
	Secondary Provider // optional
	// Symbols are used when a caller asks for the board without naming symbols
	Symbols []string
}

// MarketDataService serves quote boards through the TTL cache, retrying each
// provider and falling back to the secondary provider and then to the last
// value that was fetched successfully
type MarketDataService struct {
	chains    map[entities.QuoteKind]Chain
	cache     *cache.TTLCache
	ttl       time.Duration
	retrier   *retry.Retrier
	lastKnown cache.LastKnownStore
	logger    *zap.Logger
}

func NewMarketDataService(
	chains map[entities.QuoteKind]Chain,
	ttlCache *cache.TTLCache,
	ttl time.Duration,
	retrier *retry.Retrier,
	lastKnown cache.LastKnownStore,
	logger *zap.Logger,
) *MarketDataService {
	if lastKnown == nil {
		lastKnown = cache.NewMemoryStore()
	}
	return &MarketDataService{
		chains:    chains,
		cache:     ttlCache,
		ttl:       ttl,
		retrier:   retrier,
		lastKnown: lastKnown,
		logger:    logger,
	}
}

// Board returns quotes of the given kind. Empty symbols use the chain defaults.
func (s *MarketDataService) Board(ctx context.Context, kind entities.QuoteKind, symbols []string) (entities.QuoteBoard, error) {
	chain, ok := s.chains[kind]
	if !ok || chain.Primary == nil {
		return entities.QuoteBoard{}, domainerrors.ValidationError("kind", fmt.Sprintf("unsupported quote kind %q", kind))
	}

	symbols = normalizeSymbols(kind, symbols)
	if len(symbols) == 0 {
		symbols = normalizeSymbols(kind, chain.Symbols)
	}
	if len(symbols) == 0 {
		return entities.QuoteBoard{}, domainerrors.ValidationError("symbols", "no symbols requested")
	}

	key := cacheKey(kind, symbols)
	fetched := false
	board, err := cache.GetCached(ctx, s.cache, key, s.ttl, func(ctx context.Context) (entities.QuoteBoard, error) {
		fetched = true
		return s.load(ctx, kind, chain, symbols, key)
	})
	if err != nil {
		return entities.QuoteBoard{}, err
	}
	if !fetched {
		metrics.MarketFetchTotal.WithLabelValues(string(kind), SourceCache).Inc()
	}
	return board, nil
}

// load walks primary, secondary, then the last-known store
func (s *MarketDataService) load(ctx context.Context, kind entities.QuoteKind, chain Chain, symbols []string, key string) (entities.QuoteBoard, error) {
	ctx, span := tracer.Start(ctx, "market.Board")
	defer span.End()
	span.SetAttributes(
		attribute.String("quote.kind", string(kind)),
		attribute.Int("quote.symbols", len(symbols)),
	)

	board, primaryErr := s.fetch(ctx, chain.Primary, symbols)
	if primaryErr == nil {
		return s.remember(ctx, kind, board, key, SourcePrimary), nil
	}
	s.logger.Warn("Primary market data source unavailable",
		zap.String("kind", string(kind)),
		zap.String("provider", chain.Primary.Name()),
		zap.Error(primaryErr))

	var secondaryErr error
	if chain.Secondary != nil {
		board, secondaryErr = s.fetch(ctx, chain.Secondary, symbols)
		if secondaryErr == nil {
			return s.remember(ctx, kind, board, key, SourceSecondary), nil
		}
		s.logger.Warn("Secondary market data source unavailable",
			zap.String("kind", string(kind)),
			zap.String("provider", chain.Secondary.Name()),
			zap.Error(secondaryErr))
	}

	var last entities.QuoteBoard
	found, err := s.lastKnown.Get(ctx, key, &last)
	if err != nil {
		s.logger.Warn("Failed to read last known quotes", zap.String("key", key), zap.Error(err))
	}
	if found {
		last.Stale = true
		metrics.MarketFetchTotal.WithLabelValues(string(kind), SourceLastKnown).Inc()
		s.logger.Info("Serving last known quotes",
			zap.String("kind", string(kind)),
			zap.Time("fetched_at", last.FetchedAt))
		return last, nil
	}

	metrics.MarketFetchTotal.WithLabelValues(string(kind), SourceError).Inc()
	cause := errors.Join(primaryErr, secondaryErr)
	tracing.RecordError(span, cause)
	return entities.QuoteBoard{}, domainerrors.ServiceUnavailableError(string(kind)+" quotes", cause)
}

func (s *MarketDataService) fetch(ctx context.Context, p Provider, symbols []string) (entities.QuoteBoard, error) {
	board, err := retry.DoWithValue(ctx, s.retrier, func(ctx context.Context) (entities.QuoteBoard, error) {
		return p.Fetch(ctx, symbols)
	})
	if err != nil {
		return entities.QuoteBoard{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return board, nil
}

func (s *MarketDataService) remember(ctx context.Context, kind entities.QuoteKind, board entities.QuoteBoard, key, source string) entities.QuoteBoard {
	board.Kind = kind
	board.Stale = false
	if board.FetchedAt.IsZero() {
		board.FetchedAt = time.Now().UTC()
	}
	metrics.MarketFetchTotal.WithLabelValues(string(kind), source).Inc()

	if err := s.lastKnown.Put(ctx, key, board); err != nil {
		s.logger.Warn("Failed to store last known quotes", zap.String("key", key), zap.Error(err))
	}
	return board
}

// normalizeSymbols trims, case-folds and dedupes while keeping order.
// Crypto ids are lower case, commodity futures keep their case, the rest are upper case.
func normalizeSymbols(kind entities.QuoteKind, symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		switch kind {
		case entities.QuoteKindCrypto:
			s = strings.ToLower(s)
		case entities.QuoteKindCommodity:
		default:
			s = strings.ToUpper(s)
		}
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// cacheKey is order independent so "/stocks SBER GAZP" and "/stocks GAZP SBER" share an entry
func cacheKey(kind entities.QuoteKind, symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return "market:" + string(kind) + ":" + strings.Join(sorted, ",")
}
