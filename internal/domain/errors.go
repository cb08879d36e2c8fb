package domain

import "errors"

// Lifecycle errors.
var (
	ErrAlreadyRunning  = errors.New("kiosk: already running")
	ErrNotRunning      = errors.New("kiosk: not running")
	ErrShutdownTimeout = errors.New("kiosk: shutdown timeout")
	ErrInvalidConfig   = errors.New("kiosk: invalid configuration")
)

// Transport and vendor API errors.
var (
	// ErrBrokerDisconnected is returned when a publish is attempted while the
	// MQTT connection is down.
	ErrBrokerDisconnected = errors.New("kiosk: broker disconnected")

	// ErrUnauthorized marks a vendor API response that rejected the bearer
	// token. The token manager recovers from it once per call.
	ErrUnauthorized = errors.New("kiosk: unauthorized")

	// ErrInvalidBalance is returned when the balance endpoint answers with a
	// missing, non-numeric or negative value.
	ErrInvalidBalance = errors.New("kiosk: invalid balance")
)

// ErrInsufficientStock is returned when a sale would take a product's stock
// below zero.
var ErrInsufficientStock = errors.New("kiosk: insufficient stock")

// Order rejections. These are surfaced to the customer before any dispatch.
var (
	ErrEmptyOrder          = errors.New("invalid or empty products array")
	ErrNoCard              = errors.New("please insert the card for checkout")
	ErrLowBalance          = errors.New("invalid user card or balance low")
	ErrUnknownUser         = errors.New("invalid user")
	ErrInsufficientBalance = errors.New("insufficient card balance")
	ErrOrderInProgress     = errors.New("another order is being dispensed")
)
