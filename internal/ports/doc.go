// Package ports defines the interfaces that connect the kiosk application
// layer to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Broker]: MQTT publish/subscribe connection
//   - [TokenStore]: durable vendor API token pairs
//   - [UserStore], [CatalogStore], [OrderStore]: SQLite-backed persistence
//   - [AuthAPI], [BalanceAPI]: the remote vendor balance/consumption API
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application layer (internal/app) depends only on these interfaces.
// Adapters under internal/adapters implement them.
package ports
