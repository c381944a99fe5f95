package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raincheck/rainline/internal/model"
)

// slotKey is the fixed key for the single retained order.
const slotKey = "latest"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The order is stored as a JSONB document — the repository is schema-free
// on purpose: the record has no versioning and one writer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS rainline_orders (
		     slot       TEXT PRIMARY KEY,
		     doc        JSONB NOT NULL,
		     updated_at TIMESTAMPTZ NOT NULL
		 )`)
	return err
}

func (s *PostgresStore) SaveOrder(ctx context.Context, order *model.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rainline_orders (slot, doc, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (slot) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		slotKey, doc, time.Now().UTC(),
	)
	return err
}

func (s *PostgresStore) LatestOrder(ctx context.Context) (*model.Order, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM rainline_orders WHERE slot = $1`, slotKey).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoOrder
	}
	if err != nil {
		return nil, fmt.Errorf("get latest order: %w", err)
	}

	var order model.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, nil
}
