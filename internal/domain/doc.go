// Package domain contains the core entities and value objects of the kiosk
// control plane.
//
// It has no dependencies on infrastructure (MQTT, HTTP, SQLite, logging).
//
// # Entities
//
//   - [ShelfID]: one of the five dispensing shelves and its product range
//   - [LineItem]: a product/quantity pair of an order, with its outcome flag
//   - [Card]: the prepaid card currently inserted in the reader
//   - [TokenPair]: access/refresh credentials for the vendor balance API
//   - [Product]: a catalog entry with price and stock
package domain
