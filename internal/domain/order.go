package domain

import "fmt"

// LineItem is one product/quantity pair of an order.
type LineItem struct {
	ID       int  `json:"id"`
	Quantity int  `json:"quantity"`
	Failed   bool `json:"failed"`
}

// Command renders the dispense command understood by shelf controllers.
func (li LineItem) Command() string {
	return fmt.Sprintf("%d,%d", li.ID, li.Quantity)
}

// AsFailed returns a copy of li flagged as failed.
func (li LineItem) AsFailed() LineItem {
	li.Failed = true
	return li
}

// DispatchResult is the complete accounting of one dispatch.
type DispatchResult struct {
	Successful []LineItem `json:"successful"`
	Failed     []LineItem `json:"failed"`
}

// OrderLine is a line item enriched with catalog data for the customer
// receipt.
type OrderLine struct {
	LineItem
	Name  string `json:"name"`
	Image string `json:"image"`
}

// OrderOutcome is what the order flow reports back once dispatch finished.
type OrderOutcome struct {
	Reference string      `json:"reference"`
	Lines     []OrderLine `json:"cart"`
	Total     float64     `json:"total"`
	Charged   float64     `json:"charged"`
}

// OrderSummary is the durable record of a completed order.
type OrderSummary struct {
	Reference string
	UserID    string
	UserName  string
	Items     []LineItem
	Total     float64
}
