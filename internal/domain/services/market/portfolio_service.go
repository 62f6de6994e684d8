package market

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/tracing"
)

// PortfolioBroker is the brokerage surface needed for portfolio snapshots
type PortfolioBroker interface {
	HasToken() bool
	ResolveAccountID(ctx context.Context) (string, error)
	GetPortfolio(ctx context.Context, accountID string) (*entities.PortfolioSnapshot, error)
}

// PortfolioService reads the broker account's current holdings
type PortfolioService struct {
	broker PortfolioBroker
	logger *zap.Logger
}

func NewPortfolioService(broker PortfolioBroker, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{broker: broker, logger: logger}
}

// Snapshot returns the portfolio with positions ordered by market value, largest first
func (s *PortfolioService) Snapshot(ctx context.Context) (*entities.PortfolioSnapshot, error) {
	ctx, span := tracer.Start(ctx, "portfolio.Snapshot")
	defer span.End()

	if !s.broker.HasToken() {
		return nil, domainerrors.UnauthorizedError("brokerage token is not configured")
	}

	accountID, err := s.broker.ResolveAccountID(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	snapshot, err := s.broker.GetPortfolio(ctx, accountID)
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.Error("Failed to load portfolio", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	sort.SliceStable(snapshot.Positions, func(i, j int) bool {
		return snapshot.Positions[i].MarketValue().GreaterThan(snapshot.Positions[j].MarketValue())
	})
	return snapshot, nil
}
