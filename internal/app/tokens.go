package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// maxAuthRetries caps the refresh-and-retry cycles of one authenticated call.
const maxAuthRetries = 1

// AuthenticatedCall issues one vendor API request bearing access.
type AuthenticatedCall func(ctx context.Context, access string) error

// TokenManager keeps one vendor API token pair per user id and wraps
// authenticated calls with a single refresh-and-retry cycle.
//
// The persisted pair is re-read before every attempt; the store is the only
// source of truth. Token exchanges for the same user id are serialized.
type TokenManager struct {
	store  ports.TokenStore
	auth   ports.AuthAPI
	logger log.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager creates a token manager.
func NewTokenManager(store ports.TokenStore, auth ports.AuthAPI, logger log.Logger) *TokenManager {
	return &TokenManager{
		store:  store,
		auth:   auth,
		logger: logger.With(log.String("component", "tokens")),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Do runs call with a valid access token for userID. When the call is
// rejected as unauthorized, the token is refreshed (or a fresh login is
// performed if the refresh is rejected) and call is retried exactly once.
func (m *TokenManager) Do(ctx context.Context, userID string, call AuthenticatedCall) error {
	for attempt := 0; ; attempt++ {
		pair, err := m.ensure(ctx, userID)
		if err != nil {
			return err
		}

		err = m.invoke(ctx, pair.Access, call)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrUnauthorized) || attempt >= maxAuthRetries {
			return err
		}

		m.logger.Info("access token rejected, renewing",
			log.String("userid", userID),
			log.Int("attempt", attempt),
		)
		if err := m.renew(ctx, userID, pair.Access); err != nil {
			return err
		}
	}
}

func (m *TokenManager) invoke(ctx context.Context, access string, call AuthenticatedCall) error {
	if m.expired(access) {
		return fmt.Errorf("%w: access token expired", domain.ErrUnauthorized)
	}
	return call(ctx, access)
}

// expired reports whether access is a JWT whose exp claim has passed.
// Opaque tokens are never considered expired locally.
func (m *TokenManager) expired(access string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !m.now().Before(claims.ExpiresAt.Time)
}

// ensure returns the stored pair, logging in first if there is none.
func (m *TokenManager) ensure(ctx context.Context, userID string) (domain.TokenPair, error) {
	unlock := m.lock(userID)
	defer unlock()

	pair, err := m.store.LoadTokenPair(ctx, userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	if !pair.Empty() {
		return pair, nil
	}

	if err := m.login(ctx, userID); err != nil {
		return domain.TokenPair{}, err
	}
	pair, err = m.store.LoadTokenPair(ctx, userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("reload tokens: %w", err)
	}
	if pair.Empty() {
		return domain.TokenPair{}, errors.New("no access token after login")
	}
	return pair, nil
}

// renew replaces the rejected access token. If another caller already
// replaced it, nothing is exchanged.
func (m *TokenManager) renew(ctx context.Context, userID, rejected string) error {
	unlock := m.lock(userID)
	defer unlock()

	pair, err := m.store.LoadTokenPair(ctx, userID)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	if !pair.Empty() && pair.Access != rejected {
		return nil
	}

	if pair.Refresh == "" {
		return m.login(ctx, userID)
	}

	access, err := m.auth.Refresh(ctx, pair.Refresh)
	if err != nil {
		m.logger.Warn("token refresh failed, logging in again",
			log.String("userid", userID),
			log.Err(err),
		)
		return m.login(ctx, userID)
	}

	if err := m.store.SaveTokenPair(ctx, userID, domain.TokenPair{Access: access, Refresh: pair.Refresh}); err != nil {
		return fmt.Errorf("save refreshed tokens: %w", err)
	}
	m.logger.Debug("access token refreshed", log.String("userid", userID))
	return nil
}

func (m *TokenManager) login(ctx context.Context, userID string) error {
	pair, err := m.auth.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := m.store.SaveTokenPair(ctx, userID, pair); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	m.logger.Info("logged in to vendor API", log.String("userid", userID))
	return nil
}

func (m *TokenManager) lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
