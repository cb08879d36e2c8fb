package ports

import (
	"context"

	"github.com/bft-labs/kiosk/internal/domain"
)

// AuthAPI exchanges credentials with the vendor API.
type AuthAPI interface {
	// Login exchanges the fixed service credentials for a fresh pair.
	Login(ctx context.Context) (domain.TokenPair, error)

	// Refresh exchanges a refresh token for a new access token. A rejected
	// refresh token yields an error wrapping domain.ErrUnauthorized.
	Refresh(ctx context.Context, refresh string) (string, error)
}

// Consumption is one charge recorded against a card holder.
type Consumption struct {
	Reference string  `json:"reference"`
	Cost      float64 `json:"cost"`
	Service   int     `json:"service"`
}

// BalanceAPI performs authenticated vendor API calls. Implementations
// return an error wrapping domain.ErrUnauthorized when the access token is
// rejected.
type BalanceAPI interface {
	Balance(ctx context.Context, access, userID string) (float64, error)
	RecordConsumption(ctx context.Context, access string, c Consumption) error
}
