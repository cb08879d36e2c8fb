package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/pkg/log"
)

type fixedCard struct{ card *domain.Card }

func (f fixedCard) Current() *domain.Card {
	if f.card == nil {
		return nil
	}
	c := *f.card
	return &c
}

type mockChecker struct {
	mu       sync.Mutex
	balance  float64
	recorded []float64
}

func (m *mockChecker) CheckBalance(ctx context.Context, card *domain.Card) float64 {
	return m.balance
}

func (m *mockChecker) RecordConsumption(ctx context.Context, card *domain.Card, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, amount)
}

type mockDispatcher struct {
	got     []domain.LineItem
	result  domain.DispatchResult
	calls   int
	entered chan struct{}
	block   chan struct{}
}

func (m *mockDispatcher) Dispatch(ctx context.Context, items []domain.LineItem) domain.DispatchResult {
	m.calls++
	m.got = items
	if m.entered != nil {
		close(m.entered)
	}
	if m.block != nil {
		<-m.block
	}
	return m.result
}

type staticDevice bool

func (s staticDevice) AnyAlive() bool { return bool(s) }

var testCatalog = []domain.Product{
	{ID: 1, Name: "Water", Price: 1.5, Quantity: 10, Image: "/images/water.jpg"},
	{ID: 9, Name: "Chips", Price: 2, Quantity: 1},
	{ID: 20, Name: "Gum", Price: 0.5, Quantity: 5, Image: "/images/gum.jpg"},
}

type orderFixture struct {
	svc        *OrderService
	checker    *mockChecker
	users      *mockUserStore
	orders     *mockOrderStore
	dispatcher *mockDispatcher
}

func newOrderFixture(card *domain.Card, balance float64, alive bool) *orderFixture {
	f := &orderFixture{
		checker:    &mockChecker{balance: balance},
		users:      newMockUserStore(),
		orders:     &mockOrderStore{},
		dispatcher: &mockDispatcher{},
	}
	f.users.users["u1"] = "Ada"
	f.svc = NewOrderService(OrderServiceDeps{
		Cards:      fixedCard{card},
		Balance:    f.checker,
		Users:      f.users,
		Catalog:    &mockCatalog{products: testCatalog},
		Orders:     f.orders,
		Dispatcher: f.dispatcher,
		Device:     staticDevice(alive),
	}, log.NewNoopLogger())
	return f
}

func TestOrderService_Rejections(t *testing.T) {
	ada := &domain.Card{UserID: "u1", UserName: "Ada", Credit: 100}
	stranger := &domain.Card{UserID: "u2", UserName: "Bo", Credit: 100}

	tests := []struct {
		name    string
		card    *domain.Card
		balance float64
		items   []domain.LineItem
		wantErr error
	}{
		{"empty order", ada, 100, nil, domain.ErrEmptyOrder},
		{"no card", nil, 100, []domain.LineItem{{ID: 1, Quantity: 1}}, domain.ErrNoCard},
		{"zero balance", ada, 0, []domain.LineItem{{ID: 1, Quantity: 1}}, domain.ErrLowBalance},
		{"unknown user", stranger, 100, []domain.LineItem{{ID: 1, Quantity: 1}}, domain.ErrUnknownUser},
		{"insufficient balance", ada, 2, []domain.LineItem{{ID: 1, Quantity: 2}}, domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(tt.card, tt.balance, true)
			_, err := f.svc.PlaceOrder(context.Background(), tt.items)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceOrder() error = %v, want %v", err, tt.wantErr)
			}
			if f.dispatcher.calls != 0 {
				t.Error("nothing may be dispatched after a rejection")
			}
		})
	}
}

func TestOrderService_PlaceOrder(t *testing.T) {
	f := newOrderFixture(&domain.Card{UserID: "u1", UserName: "Ada"}, 50, true)
	f.dispatcher.result = domain.DispatchResult{
		Successful: []domain.LineItem{{ID: 1, Quantity: 2}},
		Failed:     []domain.LineItem{{ID: 20, Quantity: 1, Failed: true}},
	}

	items := []domain.LineItem{
		{ID: 1, Quantity: 2},
		{ID: 9, Quantity: 3}, // only one in stock
		{ID: 20, Quantity: 1},
		{ID: 77, Quantity: 1}, // not in catalog
	}
	out, err := f.svc.PlaceOrder(context.Background(), items)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	f.svc.Wait()

	wantDispatched := []domain.LineItem{{ID: 1, Quantity: 2}, {ID: 20, Quantity: 1}}
	if diff := cmp.Diff(wantDispatched, f.dispatcher.got); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}

	wantLines := []domain.OrderLine{
		{LineItem: domain.LineItem{ID: 1, Quantity: 2}, Name: "Water", Image: "/images/water.jpg"},
		{LineItem: domain.LineItem{ID: 9, Quantity: 3, Failed: true}, Name: "Chips", Image: fallbackProductIcon},
		{LineItem: domain.LineItem{ID: 20, Quantity: 1, Failed: true}, Name: "Gum", Image: "/images/gum.jpg"},
		{LineItem: domain.LineItem{ID: 77, Quantity: 1, Failed: true}, Name: unknownProductName, Image: fallbackProductIcon},
	}
	if diff := cmp.Diff(wantLines, out.Lines); diff != "" {
		t.Errorf("receipt mismatch (-want +got):\n%s", diff)
	}
	if out.Total != 3.5 {
		t.Errorf("Total = %v, want 3.5", out.Total)
	}
	if out.Charged != 3 {
		t.Errorf("Charged = %v, want 3", out.Charged)
	}
	if out.Reference == "" {
		t.Error("Reference should be set")
	}

	if diff := cmp.Diff([][]domain.LineItem{{{ID: 1, Quantity: 2}}}, f.orders.persisted); diff != "" {
		t.Errorf("persisted mismatch (-want +got):\n%s", diff)
	}
	if len(f.orders.summaries) != 1 || f.orders.summaries[0].Reference != out.Reference {
		t.Errorf("summaries = %+v", f.orders.summaries)
	}
	if diff := cmp.Diff([]float64{3}, f.checker.recorded); diff != "" {
		t.Errorf("consumption mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderService_RepeatedIDsShareStock(t *testing.T) {
	f := newOrderFixture(&domain.Card{UserID: "u1", UserName: "Ada"}, 50, true)
	f.dispatcher.result = domain.DispatchResult{Successful: []domain.LineItem{{ID: 9, Quantity: 1}}}

	// Chips has a single unit in stock.
	out, err := f.svc.PlaceOrder(context.Background(), []domain.LineItem{
		{ID: 9, Quantity: 1},
		{ID: 9, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	f.svc.Wait()

	if diff := cmp.Diff([]domain.LineItem{{ID: 9, Quantity: 1}}, f.dispatcher.got); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}
	wantLines := []domain.OrderLine{
		{LineItem: domain.LineItem{ID: 9, Quantity: 1}, Name: "Chips", Image: fallbackProductIcon},
		{LineItem: domain.LineItem{ID: 9, Quantity: 1, Failed: true}, Name: "Chips", Image: fallbackProductIcon},
	}
	if diff := cmp.Diff(wantLines, out.Lines); diff != "" {
		t.Errorf("receipt mismatch (-want +got):\n%s", diff)
	}
	if out.Total != 2 || out.Charged != 2 {
		t.Errorf("Total = %v, Charged = %v, want 2 and 2", out.Total, out.Charged)
	}
}

func TestReceiptLines_MatchesOutcomesPerLine(t *testing.T) {
	items := []domain.LineItem{{ID: 1, Quantity: 1}, {ID: 1, Quantity: 1}, {ID: 1, Quantity: 2}}
	res := domain.DispatchResult{
		Successful: []domain.LineItem{{ID: 1, Quantity: 1}, {ID: 1, Quantity: 2}},
		Failed:     []domain.LineItem{{ID: 1, Quantity: 1, Failed: true}},
	}

	var failed []bool
	for _, l := range receiptLines(items, res, nil) {
		failed = append(failed, l.Failed)
	}
	if diff := cmp.Diff([]bool{false, true, false}, failed); diff != "" {
		t.Errorf("failed flags mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderService_NoConsumptionWhenDeviceOffline(t *testing.T) {
	f := newOrderFixture(&domain.Card{UserID: "u1", UserName: "Ada"}, 50, false)
	f.dispatcher.result = domain.DispatchResult{Successful: []domain.LineItem{{ID: 1, Quantity: 1}}}

	if _, err := f.svc.PlaceOrder(context.Background(), []domain.LineItem{{ID: 1, Quantity: 1}}); err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	f.svc.Wait()
	if len(f.checker.recorded) != 0 {
		t.Errorf("recorded = %v, want none while device offline", f.checker.recorded)
	}
}

func TestOrderService_OneOrderAtATime(t *testing.T) {
	f := newOrderFixture(&domain.Card{UserID: "u1", UserName: "Ada"}, 50, true)
	f.dispatcher.entered = make(chan struct{})
	f.dispatcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.PlaceOrder(context.Background(), []domain.LineItem{{ID: 1, Quantity: 1}})
		done <- err
	}()

	<-f.dispatcher.entered

	_, err := f.svc.PlaceOrder(context.Background(), []domain.LineItem{{ID: 1, Quantity: 1}})
	if !errors.Is(err, domain.ErrOrderInProgress) {
		t.Errorf("concurrent PlaceOrder() error = %v, want ErrOrderInProgress", err)
	}

	close(f.dispatcher.block)
	if err := <-done; err != nil {
		t.Errorf("first PlaceOrder() error = %v", err)
	}
}

func TestOrderService_PersistFailure(t *testing.T) {
	f := newOrderFixture(&domain.Card{UserID: "u1", UserName: "Ada"}, 50, true)
	f.orders.persistErr = errors.New("disk full")

	if _, err := f.svc.PlaceOrder(context.Background(), []domain.LineItem{{ID: 1, Quantity: 1}}); err == nil {
		t.Fatal("PlaceOrder() should fail when the outcome cannot be persisted")
	}
}
