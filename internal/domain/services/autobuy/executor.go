package autobuy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/security"
	"github.com/rail-service/invest_bot/pkg/tracing"
)

// Broker defines the brokerage operations the autobuy flow needs
type Broker interface {
	HasToken() bool
	ResolveAccountID(ctx context.Context) (string, error)
	FindInstruments(ctx context.Context, query string) ([]entities.BrokerInstrument, error)
	PostMarketBuy(ctx context.Context, req entities.BrokerOrderRequest) (*entities.BrokerOrder, error)
}

// IDGenerator produces idempotency tokens
type IDGenerator func() string

// Executor resolves tickers and submits market buys
type Executor struct {
	broker Broker
	newID  IDGenerator
}

// NewExecutor creates an executor; a nil generator uses random UUIDs
func NewExecutor(broker Broker, newID IDGenerator) *Executor {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Executor{broker: broker, newID: newID}
}

// ResolveInstrument picks the instrument to trade for ticker.
// Candidates are narrowed to exact ticker matches, then shares, then API-tradable
// instruments; an empty stage means the ticker is not found.
func (e *Executor) ResolveInstrument(ctx context.Context, ticker string) (entities.BrokerInstrument, error) {
	found, err := e.broker.FindInstruments(ctx, ticker)
	if err != nil {
		return entities.BrokerInstrument{}, fmt.Errorf("search %s: %w", ticker, err)
	}
	return SelectInstrument(ticker, found)
}

// SelectInstrument applies the filter stages to search results
func SelectInstrument(ticker string, candidates []entities.BrokerInstrument) (entities.BrokerInstrument, error) {
	ticker = NormalizeTicker(ticker)
	stages := []func(entities.BrokerInstrument) bool{
		func(i entities.BrokerInstrument) bool { return NormalizeTicker(i.Ticker) == ticker },
		func(i entities.BrokerInstrument) bool { return i.InstrumentType == entities.InstrumentTypeShare },
		func(i entities.BrokerInstrument) bool { return i.APITradeAvailable },
	}

	for _, keep := range stages {
		candidates = filterInstruments(candidates, keep)
		if len(candidates) == 0 {
			return entities.BrokerInstrument{}, instrumentNotFound(ticker)
		}
	}

	for _, c := range candidates {
		if c.Identifier() != "" {
			return c, nil
		}
	}
	return entities.BrokerInstrument{}, instrumentNotFound(ticker)
}

func filterInstruments(in []entities.BrokerInstrument, keep func(entities.BrokerInstrument) bool) []entities.BrokerInstrument {
	out := in[:0:0]
	for _, i := range in {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

func instrumentNotFound(ticker string) error {
	return &domainerrors.DomainError{
		Err:     domainerrors.ErrNotFound,
		Code:    "INSTRUMENT_NOT_FOUND",
		Message: fmt.Sprintf("tradable share %s not found", ticker),
	}
}

// Buy resolves one position and submits its order. The error, if any, is
// recorded in the result rather than returned.
func (e *Executor) Buy(ctx context.Context, accountID string, pos entities.AutobuyPosition) entities.AutobuyPositionResult {
	ctx, span := tracer.Start(ctx, "autobuy.Buy",
		trace.WithAttributes(
			attribute.String("ticker", pos.Ticker),
			attribute.Int64("qty", pos.Qty),
		))
	defer span.End()

	result := entities.AutobuyPositionResult{Ticker: pos.Ticker, Qty: pos.Qty}

	instrument, err := e.ResolveInstrument(ctx, pos.Ticker)
	if err != nil {
		tracing.RecordError(span, err)
		result.Error = security.MaskString(err.Error())
		return result
	}

	order, err := e.broker.PostMarketBuy(ctx, entities.BrokerOrderRequest{
		AccountID:      accountID,
		InstrumentID:   instrument.Identifier(),
		Lots:           pos.Qty,
		IdempotencyKey: e.newID(),
	})
	if err != nil {
		tracing.RecordError(span, err)
		result.Error = security.MaskString(err.Error())
		return result
	}

	span.SetAttributes(attribute.String("order_id", order.OrderID))
	result.OK = true
	result.OrderID = order.OrderID
	result.Status = order.Status
	return result
}
