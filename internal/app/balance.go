package app

import (
	"context"
	"fmt"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// DefaultConsumptionService is the vendor service id charged for kiosk sales.
const DefaultConsumptionService = 3

// BalanceGateway exposes the vendor balance and consumption endpoints
// through the token manager.
type BalanceGateway struct {
	tokens  *TokenManager
	api     ports.BalanceAPI
	service int
	logger  log.Logger
}

// NewBalanceGateway creates a gateway charging consumptions to service.
func NewBalanceGateway(tokens *TokenManager, api ports.BalanceAPI, service int, logger log.Logger) *BalanceGateway {
	if service <= 0 {
		service = DefaultConsumptionService
	}
	return &BalanceGateway{
		tokens:  tokens,
		api:     api,
		service: service,
		logger:  logger.With(log.String("component", "balance")),
	}
}

// Balance returns the live balance of userID. A negative balance is an
// error.
func (g *BalanceGateway) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := g.tokens.Do(ctx, userID, func(ctx context.Context, access string) error {
		b, err := g.api.Balance(ctx, access, userID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidBalance, balance)
	}
	return balance, nil
}

// CheckBalance returns the live balance of card, or 0 if card is nil or the
// lookup fails.
func (g *BalanceGateway) CheckBalance(ctx context.Context, card *domain.Card) float64 {
	if card == nil {
		return 0
	}
	balance, err := g.Balance(ctx, card.UserID)
	if err != nil {
		g.logger.Error("balance check failed", log.String("userid", card.UserID), log.Err(err))
		return 0
	}
	return balance
}

// RecordConsumption charges amount to card, referenced by the card's user
// id. Failures are logged and never returned.
func (g *BalanceGateway) RecordConsumption(ctx context.Context, card *domain.Card, amount float64) {
	if card == nil {
		g.logger.Warn("consumption skipped, no card")
		return
	}
	reference := card.UserID
	c := ports.Consumption{Reference: reference, Cost: amount, Service: g.service}
	err := g.tokens.Do(ctx, card.UserID, func(ctx context.Context, access string) error {
		return g.api.RecordConsumption(ctx, access, c)
	})
	if err != nil {
		g.logger.Error("failed to record consumption",
			log.String("userid", card.UserID),
			log.String("reference", reference),
			log.Float64("cost", amount),
			log.Err(err),
		)
		return
	}
	g.logger.Info("consumption recorded",
		log.String("userid", card.UserID),
		log.String("reference", reference),
		log.Float64("cost", amount),
	)
}
