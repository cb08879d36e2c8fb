package app

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
)

type publishCall struct {
	Topic   string
	Payload string
}

// mockBroker records publishes and lets tests drive subscriptions.
type mockBroker struct {
	mu         sync.Mutex
	connected  bool
	published  []publishCall
	ctxErrs    []error
	publishErr func(topic string, payload []byte) error
	onPublish  func(topic string, payload []byte)
	subs       map[string]ports.MessageHandler
	listener   ports.ConnectionListener
	connectErr error
	connects   int
	closed     bool
}

func newMockBroker() *mockBroker {
	return &mockBroker{connected: true, subs: make(map[string]ports.MessageHandler)}
}

func (m *mockBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	hook := m.onPublish
	fail := m.publishErr
	m.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	if fail != nil {
		if err := fail(topic, payload); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishCall{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *mockBroker) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockBroker) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectErr
}

func (m *mockBroker) Subscribe(topic string, handler ports.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = handler
	return nil
}

func (m *mockBroker) SetConnectionListener(l ports.ConnectionListener) {
	m.listener = l
}

func (m *mockBroker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockBroker) deliver(filter, topic string, payload []byte) {
	m.mu.Lock()
	h := m.subs[filter]
	m.mu.Unlock()
	if h != nil {
		h(ports.Message{Topic: topic, Payload: payload})
	}
}

func (m *mockBroker) Published() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

// mockLiveness reports a fixed set of alive shelves.
type mockLiveness map[domain.ShelfID]bool

func (m mockLiveness) IsAlive(s domain.ShelfID) bool { return m[s] }

// mockTokenStore keeps pairs in memory.
type mockTokenStore struct {
	mu    sync.Mutex
	pairs map[string]domain.TokenPair
	saves int
	loads int
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{pairs: make(map[string]domain.TokenPair)}
}

func (m *mockTokenStore) LoadTokenPair(ctx context.Context, userID string) (domain.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.pairs[userID], nil
}

func (m *mockTokenStore) SaveTokenPair(ctx context.Context, userID string, pair domain.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.pairs[userID] = pair
	return nil
}

// mockAuth hands out numbered tokens.
type mockAuth struct {
	mu         sync.Mutex
	logins     int
	refreshes  int
	refreshErr error
	loginErr   error
}

func (m *mockAuth) Login(ctx context.Context) (domain.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins++
	if m.loginErr != nil {
		return domain.TokenPair{}, m.loginErr
	}
	return domain.TokenPair{Access: "login-access", Refresh: "login-refresh"}, nil
}

func (m *mockAuth) Refresh(ctx context.Context, refresh string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	if m.refreshErr != nil {
		return "", m.refreshErr
	}
	return "refreshed-access", nil
}

// mockBalanceAPI answers balance calls and records consumptions.
type mockBalanceAPI struct {
	mu           sync.Mutex
	balance      float64
	reject       map[string]bool // access tokens answered with 401
	err          error
	calls        []string // access token per call
	consumptions []ports.Consumption
}

func (m *mockBalanceAPI) check(access string) error {
	m.calls = append(m.calls, access)
	if m.reject[access] {
		return domain.ErrUnauthorized
	}
	return m.err
}

func (m *mockBalanceAPI) Balance(ctx context.Context, access, userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(access); err != nil {
		return 0, err
	}
	return m.balance, nil
}

func (m *mockBalanceAPI) RecordConsumption(ctx context.Context, access string, c ports.Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(access); err != nil {
		return err
	}
	m.consumptions = append(m.consumptions, c)
	return nil
}

// mockBalanceLookup returns a fixed balance or error.
type mockBalanceLookup struct {
	balance float64
	err     error
	block   chan struct{}
}

func (m *mockBalanceLookup) Balance(ctx context.Context, userID string) (float64, error) {
	if m.block != nil {
		<-m.block
	}
	return m.balance, m.err
}

// mockUserStore records upserts.
type mockUserStore struct {
	mu      sync.Mutex
	users   map[string]string
	lookErr error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]string)}
}

func (m *mockUserStore) UpsertUser(ctx context.Context, userID, userName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = userName
	return nil
}

func (m *mockUserStore) UserExists(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookErr != nil {
		return false, m.lookErr
	}
	_, ok := m.users[userID]
	return ok, nil
}

type mockCatalog struct {
	products []domain.Product
	err      error
}

func (m *mockCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return m.products, m.err
}

type mockOrderStore struct {
	mu         sync.Mutex
	persisted  [][]domain.LineItem
	summaries  []domain.OrderSummary
	persistErr error
}

func (m *mockOrderStore) PersistOrderOutcome(ctx context.Context, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return m.persistErr
	}
	m.persisted = append(m.persisted, items)
	return nil
}

func (m *mockOrderStore) SaveOrderSummary(ctx context.Context, s domain.OrderSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

var errBroker = errors.New("broker rejected publish")
