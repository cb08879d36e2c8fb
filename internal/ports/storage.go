package ports

import (
	"context"

	"github.com/bft-labs/kiosk/internal/domain"
)

// TokenStore persists vendor API token pairs, at most one per user id.
type TokenStore interface {
	// LoadTokenPair returns an empty pair and nil error when no row exists.
	LoadTokenPair(ctx context.Context, userID string) (domain.TokenPair, error)

	// SaveTokenPair replaces any previous pair for userID.
	SaveTokenPair(ctx context.Context, userID string, pair domain.TokenPair) error
}

// UserStore persists card holders.
type UserStore interface {
	UpsertUser(ctx context.Context, userID, userName string) error
	UserExists(ctx context.Context, userID string) (bool, error)
}

// CatalogStore serves the product catalog.
type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// OrderStore persists order outcomes.
type OrderStore interface {
	// PersistOrderOutcome decrements stock and records a sale for every
	// successfully dispensed item.
	PersistOrderOutcome(ctx context.Context, items []domain.LineItem) error

	SaveOrderSummary(ctx context.Context, summary domain.OrderSummary) error
}
