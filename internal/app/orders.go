package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// Receipt placeholders for products missing from the catalog.
const (
	unknownProductName  = "Unknown"
	fallbackProductIcon = "/images/fallback.jpg"

	consumptionTimeout = 30 * time.Second
)

// CardReader exposes the current card session.
type CardReader interface {
	Current() *domain.Card
}

// BalanceChecker queries live balances and records charges.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, card *domain.Card) float64
	RecordConsumption(ctx context.Context, card *domain.Card, amount float64)
}

// OrderDispatcher dispenses line items.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, items []domain.LineItem) domain.DispatchResult
}

// DeviceStatus reports whether any shelf is reachable.
type DeviceStatus interface {
	AnyAlive() bool
}

// OrderService authorizes, dispenses and records customer orders. Only one
// order is processed at a time.
type OrderService struct {
	cards      CardReader
	balance    BalanceChecker
	users      ports.UserStore
	catalog    ports.CatalogStore
	orders     ports.OrderStore
	dispatcher OrderDispatcher
	device     DeviceStatus
	logger     log.Logger

	busy    sync.Mutex
	pending sync.WaitGroup
}

// OrderServiceDeps groups the collaborators of an OrderService.
type OrderServiceDeps struct {
	Cards      CardReader
	Balance    BalanceChecker
	Users      ports.UserStore
	Catalog    ports.CatalogStore
	Orders     ports.OrderStore
	Dispatcher OrderDispatcher
	Device     DeviceStatus
}

// NewOrderService creates an order service.
func NewOrderService(deps OrderServiceDeps, logger log.Logger) *OrderService {
	return &OrderService{
		cards:      deps.Cards,
		balance:    deps.Balance,
		users:      deps.Users,
		catalog:    deps.Catalog,
		orders:     deps.Orders,
		dispatcher: deps.Dispatcher,
		device:     deps.Device,
		logger:     logger.With(log.String("component", "orders")),
	}
}

// PlaceOrder runs one order end to end. Authorization failures are returned
// as domain rejections before anything is dispensed.
func (s *OrderService) PlaceOrder(ctx context.Context, items []domain.LineItem) (domain.OrderOutcome, error) {
	if len(items) == 0 {
		return domain.OrderOutcome{}, domain.ErrEmptyOrder
	}
	if !s.busy.TryLock() {
		return domain.OrderOutcome{}, domain.ErrOrderInProgress
	}
	defer s.busy.Unlock()

	card := s.cards.Current()
	if card == nil {
		s.logger.Info("order rejected, no card")
		return domain.OrderOutcome{}, domain.ErrNoCard
	}

	balance := s.balance.CheckBalance(ctx, card)
	if card.UserID == "" || balance <= 0 {
		s.logger.Info("order rejected, balance low", log.String("userid", card.UserID), log.Float64("balance", balance))
		return domain.OrderOutcome{}, domain.ErrLowBalance
	}

	known, err := s.users.UserExists(ctx, card.UserID)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("look up user: %w", err)
	}
	if !known {
		s.logger.Info("order rejected, unknown user", log.String("userid", card.UserID))
		return domain.OrderOutcome{}, domain.ErrUnknownUser
	}

	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("fetch products: %w", err)
	}
	catalog := make(map[int]domain.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	var (
		total     float64
		dispatch  []domain.LineItem
		preFailed []domain.LineItem
		// Repeated ids draw on the same stock.
		requested = make(map[int]int, len(items))
	)
	for _, it := range items {
		p, ok := catalog[it.ID]
		if !ok || it.Quantity <= 0 || p.Quantity < requested[it.ID]+it.Quantity {
			preFailed = append(preFailed, it.AsFailed())
			continue
		}
		requested[it.ID] += it.Quantity
		total += p.Price * float64(it.Quantity)
		dispatch = append(dispatch, domain.LineItem{ID: it.ID, Quantity: it.Quantity})
	}

	if balance < total {
		s.logger.Info("order rejected, insufficient balance",
			log.String("userid", card.UserID),
			log.Float64("balance", balance),
			log.Float64("total", total),
		)
		return domain.OrderOutcome{}, domain.ErrInsufficientBalance
	}

	var res domain.DispatchResult
	if len(dispatch) > 0 {
		res = s.dispatcher.Dispatch(ctx, dispatch)
	}
	res.Failed = append(res.Failed, preFailed...)

	if err := s.orders.PersistOrderOutcome(ctx, res.Successful); err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("persist order outcome: %w", err)
	}

	outcome := domain.OrderOutcome{
		Reference: uuid.NewString(),
		Lines:     receiptLines(items, res, catalog),
		Total:     total,
	}
	for _, it := range res.Successful {
		outcome.Charged += catalog[it.ID].Price * float64(it.Quantity)
	}

	summary := domain.OrderSummary{
		Reference: outcome.Reference,
		UserID:    card.UserID,
		UserName:  card.UserName,
		Items:     items,
		Total:     total,
	}
	if err := s.orders.SaveOrderSummary(ctx, summary); err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("save order summary: %w", err)
	}

	if s.device.AnyAlive() && outcome.Charged > 0 {
		s.recordConsumption(ctx, *card, outcome.Charged)
	}

	s.logger.Info("order processed",
		log.String("reference", outcome.Reference),
		log.String("userid", card.UserID),
		log.Int("successful", len(res.Successful)),
		log.Int("failed", len(res.Failed)),
		log.Float64("charged", outcome.Charged),
	)
	return outcome, nil
}

// Wait blocks until background consumption recordings have finished.
func (s *OrderService) Wait() {
	s.pending.Wait()
}

func (s *OrderService) recordConsumption(ctx context.Context, card domain.Card, amount float64) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, consumptionTimeout)
		defer cancel()
		s.balance.RecordConsumption(ctx, &card, amount)
	}()
}

// receiptLines annotates every requested item with its outcome and catalog
// data, in request order. Outcomes are matched per line, so repeated ids are
// reported independently.
func receiptLines(items []domain.LineItem, res domain.DispatchResult, catalog map[int]domain.Product) []domain.OrderLine {
	dispensed := make(map[domain.LineItem]int, len(res.Successful))
	for _, it := range res.Successful {
		dispensed[domain.LineItem{ID: it.ID, Quantity: it.Quantity}]++
	}

	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		key := domain.LineItem{ID: it.ID, Quantity: it.Quantity}
		ok := dispensed[key] > 0
		if ok {
			dispensed[key]--
		}
		line := domain.OrderLine{
			LineItem: domain.LineItem{ID: it.ID, Quantity: it.Quantity, Failed: !ok},
			Name:     unknownProductName,
			Image:    fallbackProductIcon,
		}
		if p, ok := catalog[it.ID]; ok {
			line.Name = p.Name
			if p.Image != "" {
				line.Image = p.Image
			}
		}
		lines = append(lines, line)
	}
	return lines
}
