package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bft-labs/kiosk/internal/app"
	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

const (
	maxBodyBytes = 1 << 20

	cardMissingMessage = "Card is not inserted or data is missing"
)

// Kiosk is the engine surface the API reads from.
type Kiosk interface {
	State() app.State
	DeviceConnected() bool
	Card() *domain.Card
}

// OrderPlacer runs customer orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, items []domain.LineItem) (domain.OrderOutcome, error)
}

// API serves the kiosk front end.
type API struct {
	kiosk   Kiosk
	orders  OrderPlacer
	catalog ports.CatalogStore
	logger  log.Logger
}

// NewAPI creates the API handlers.
func NewAPI(kiosk Kiosk, orders OrderPlacer, catalog ports.CatalogStore, logger log.Logger) *API {
	return &API{
		kiosk:   kiosk,
		orders:  orders,
		catalog: catalog,
		logger:  logger.With(log.String("component", "httpapi")),
	}
}

type orderRequest struct {
	Products []domain.LineItem `json:"products"`
}

type orderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	domain.OrderOutcome
}

func (a *API) deviceStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"connected": a.kiosk.DeviceConnected()})
}

func (a *API) cardHandler(w http.ResponseWriter, r *http.Request) {
	card := a.kiosk.Card()
	if card == nil {
		WriteJSONError(w, http.StatusOK, cardMissingMessage)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) productsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.ListProducts(r.Context())
	if err != nil {
		a.logger.Error("list products failed", log.Err(err))
		WriteJSONError(w, http.StatusInternalServerError, "failed to fetch products")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) orderHandler(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, domain.ErrEmptyOrder.Error())
		return
	}

	outcome, err := a.orders.PlaceOrder(r.Context(), req.Products)
	if err != nil {
		status := orderStatus(err)
		if status == http.StatusInternalServerError {
			a.logger.Error("order failed", log.Err(err), log.String("request_id", RequestIDFromContext(r.Context())))
			WriteJSONError(w, status, "order failed")
			return
		}
		WriteJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		Success:      true,
		Message:      "Order processed",
		OrderOutcome: outcome,
	})
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	state := a.kiosk.State()
	status := http.StatusOK
	if state != app.StateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"state": state.String()})
}
