package httpapi

import (
	"net/http"

	"github.com/bft-labs/kiosk/pkg/log"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(a *API, logger log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/esp32-status", a.deviceStatusHandler)
	mux.HandleFunc("GET /api/card-data", a.cardHandler)
	mux.HandleFunc("GET /api/products", a.productsHandler)
	mux.HandleFunc("POST /api/order", a.orderHandler)
	mux.HandleFunc("GET /healthz", a.healthHandler)
	return WithRequestID(WithLogging(logger, mux))
}
