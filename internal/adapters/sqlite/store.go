// Package sqlite implements the kiosk storage ports on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bft-labs/kiosk/internal/adapters/sqlite/migrations"
	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
)

// Store provides SQLite-backed persistence for users, the catalog, orders
// and vendor API tokens.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ ports.TokenStore   = (*Store)(nil)
	_ ports.UserStore    = (*Store)(nil)
	_ ports.CatalogStore = (*Store)(nil)
	_ ports.OrderStore   = (*Store)(nil)
)

// Open opens and migrates the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UpsertUser records a card holder, updating the name if it changed.
func (s *Store) UpsertUser(ctx context.Context, userID, userName string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (userid, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(userid) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		userID, userName, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UserExists reports whether userID has been seen.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE userid = ?`, userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	return true, nil
}

// ListProducts returns the catalog ordered by product id.
func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name, price, quantity, image FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Image); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// UpsertProducts inserts or replaces catalog entries in one transaction.
func (s *Store) UpsertProducts(ctx context.Context, products []domain.Product) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (id, name, price, quantity, image) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, price = excluded.price,
		   quantity = excluded.quantity, image = excluded.image`)
	if err != nil {
		return fmt.Errorf("prepare product upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.Price, p.Quantity, p.Image); err != nil {
			return fmt.Errorf("upsert product %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// PersistOrderOutcome decrements stock and records a sale for every item
// not flagged as failed. Nothing is written if any item exceeds its stock.
func (s *Store) PersistOrderOutcome(ctx context.Context, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order outcome: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().UnixMilli()
	for _, it := range items {
		if it.Failed {
			continue
		}
		r, err := tx.ExecContext(ctx,
			`UPDATE products SET quantity = quantity - ? WHERE id = ? AND quantity >= ?`,
			it.Quantity, it.ID, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("decrement stock of %d: %w", it.ID, err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("decrement stock of %d: %w", it.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("product %d: %w", it.ID, domain.ErrInsufficientStock)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sales (product_id, quantity, created_at) VALUES (?, ?, ?)`,
			it.ID, it.Quantity, now,
		); err != nil {
			return fmt.Errorf("record sale of %d: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// SaveOrderSummary stores the order with its requested items as JSON.
func (s *Store) SaveOrderSummary(ctx context.Context, summary domain.OrderSummary) error {
	items := summary.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	productsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO orders (reference, userid, username, products_json, total, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		summary.Reference, summary.UserID, summary.UserName, string(productsJSON), summary.Total,
		s.now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("save order summary: %w", err)
	}
	return nil
}

// LoadTokenPair returns the stored pair for userID, or an empty pair.
func (s *Store) LoadTokenPair(ctx context.Context, userID string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT access, refresh FROM tokens WHERE userid = ?`, userID,
	).Scan(&pair.Access, &pair.Refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TokenPair{}, nil
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	return pair, nil
}

// SaveTokenPair deletes any previous pair for userID and inserts pair.
func (s *Store) SaveTokenPair(ctx context.Context, userID string, pair domain.TokenPair) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE userid = ?`, userID); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tokens (userid, access, refresh, updated_at) VALUES (?, ?, ?, ?)`,
		userID, pair.Access, pair.Refresh, s.now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert tokens: %w", err)
	}
	return tx.Commit()
}
