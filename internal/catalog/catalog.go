// Package catalog reads product catalogs from TOML files.
//
// A catalog file lists one [[products]] table per product:
//
//	[[products]]
//	id = 1
//	name = "Water"
//	price = 1.5
//	quantity = 10
//	image = "/images/water.jpg"
package catalog

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/kiosk/internal/domain"
)

type file struct {
	Products []domain.Product `toml:"products"`
}

// Load reads and validates the catalog at path.
func Load(path string) ([]domain.Product, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates a TOML catalog.
func Parse(b []byte) ([]domain.Product, error) {
	var f file
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("catalog has no products")
	}

	seen := make(map[int]bool, len(f.Products))
	for _, p := range f.Products {
		if _, ok := domain.ShelfFor(p.ID); !ok {
			return nil, fmt.Errorf("product %d is not served by any shelf", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("product %d listed twice", p.ID)
		}
		seen[p.ID] = true
		if p.Name == "" {
			return nil, fmt.Errorf("product %d has no name", p.ID)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("product %d has a negative price", p.ID)
		}
		if p.Quantity < 0 {
			return nil, fmt.Errorf("product %d has a negative quantity", p.ID)
		}
	}
	return f.Products, nil
}
