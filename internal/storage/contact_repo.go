package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Contact is an entry in a user's contact book: an alias resolving to
// either another ledger handle or a raw external address. The action
// service uses the resolution to classify recipients.
type Contact struct {
	OwnerHandle string
	Alias       string
	// PeerHandle is set for internal contacts.
	PeerHandle *string
	// Address is set for external contacts.
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContactRepository handles contact book operations.
type ContactRepository struct {
	store *Store
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(store *Store) *ContactRepository {
	return &ContactRepository{store: store}
}

// Upsert creates or replaces a contact under (owner, alias).
func (r *ContactRepository) Upsert(ctx context.Context, c *Contact) error {
	if (c.PeerHandle == nil) == (c.Address == nil) {
		return fmt.Errorf("contact must have exactly one of peer handle or address")
	}

	query := `
		INSERT INTO contacts (owner_handle, alias, peer_handle, address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_handle, alias)
		DO UPDATE SET peer_handle = $3, address = $4, updated_at = NOW()
	`

	_, err := r.store.pool.Exec(ctx, query, c.OwnerHandle, c.Alias, c.PeerHandle, c.Address)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// Get resolves an alias for an owner. Returns nil when no contact exists.
func (r *ContactRepository) Get(ctx context.Context, ownerHandle, alias string) (*Contact, error) {
	query := `
		SELECT owner_handle, alias, peer_handle, address, created_at, updated_at
		FROM contacts
		WHERE owner_handle = $1 AND alias = $2
	`

	var c Contact
	err := r.store.pool.QueryRow(ctx, query, ownerHandle, alias).Scan(
		&c.OwnerHandle,
		&c.Alias,
		&c.PeerHandle,
		&c.Address,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return &c, nil
}

// List returns all contacts for an owner, ordered by alias.
func (r *ContactRepository) List(ctx context.Context, ownerHandle string) ([]*Contact, error) {
	query := `
		SELECT owner_handle, alias, peer_handle, address, created_at, updated_at
		FROM contacts
		WHERE owner_handle = $1
		ORDER BY alias
	`

	rows, err := r.store.pool.Query(ctx, query, ownerHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.OwnerHandle, &c.Alias, &c.PeerHandle, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading contacts: %w", err)
	}

	return out, nil
}

// Delete removes a contact. Missing rows are not an error.
func (r *ContactRepository) Delete(ctx context.Context, ownerHandle, alias string) error {
	query := `DELETE FROM contacts WHERE owner_handle = $1 AND alias = $2`

	if _, err := r.store.pool.Exec(ctx, query, ownerHandle, alias); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}
