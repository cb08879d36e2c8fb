package domain

// Card is the state of the card currently inserted in the reader.
//
// Credit is the balance observed when the card was inserted. It is a display
// hint; spending must re-query the balance API.
type Card struct {
	UserID   string  `json:"userid"`
	UserName string  `json:"username"`
	Credit   float64 `json:"credit"`
}
