package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RelayKeyRecord is the persisted half of the relay key custody scheme:
// the plain database share and the cipher-sealed share. Reconstructing
// the key needs both plus the cipher backend.
type RelayKeyRecord struct {
	Address     string
	StoreShare  []byte
	SealedShare []byte
}

// RelayKeyRepository stores the relay key shares. A deployment has at
// most one active relay key.
type RelayKeyRepository struct {
	store *Store
}

// NewRelayKeyRepository creates a new RelayKeyRepository
func NewRelayKeyRepository(store *Store) *RelayKeyRepository {
	return &RelayKeyRepository{store: store}
}

// Get returns the active relay key record, or nil when none exists yet.
func (r *RelayKeyRepository) Get(ctx context.Context) (*RelayKeyRecord, error) {
	query := `
		SELECT address, store_share, sealed_share
		FROM relay_keys
		ORDER BY created_at DESC
		LIMIT 1
	`

	var rec RelayKeyRecord
	err := r.store.pool.QueryRow(ctx, query).Scan(&rec.Address, &rec.StoreShare, &rec.SealedShare)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relay key: %w", err)
	}

	return &rec, nil
}

// Create persists a freshly generated relay key record.
func (r *RelayKeyRepository) Create(ctx context.Context, rec *RelayKeyRecord) error {
	query := `
		INSERT INTO relay_keys (address, store_share, sealed_share)
		VALUES ($1, $2, $3)
	`

	if _, err := r.store.pool.Exec(ctx, query, rec.Address, rec.StoreShare, rec.SealedShare); err != nil {
		return fmt.Errorf("failed to create relay key record: %w", err)
	}
	return nil
}
