package domain

// Product is a catalog entry.
type Product struct {
	ID       int     `json:"id" toml:"id"`
	Name     string  `json:"name" toml:"name"`
	Price    float64 `json:"price" toml:"price"`
	Quantity int     `json:"quantity" toml:"quantity"`
	Image    string  `json:"image" toml:"image"`
}
