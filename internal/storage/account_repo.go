package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// AccountRepository is the credential store: one row per registered
// handle, carrying the sealed PIN, wallet address, tiers and the
// last-activity instant the session evaluator runs against.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

const accountColumns = `handle, encrypted_pin, wallet_address, auth_tier, risk_tier, last_activity, created_at, updated_at`

func scanAccount(row pgx.Row) (*types.UserAccount, error) {
	var a types.UserAccount
	var authTier, riskTier int
	err := row.Scan(
		&a.Handle,
		&a.EncryptedPIN,
		&a.WalletAddress,
		&authTier,
		&riskTier,
		&a.LastActivity,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AuthTier = types.AuthTier(authTier)
	a.RiskTier = types.RiskTier(riskTier)
	return &a, nil
}

// GetByHandle retrieves an account by normalized handle. Returns nil when
// no account exists; an error only on store failure.
func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*types.UserAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE handle = $1
	`

	account, err := scanAccount(r.store.pool.QueryRow(ctx, query, handle))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by handle: %w", err)
	}

	return account, nil
}

// Create creates a new account row.
func (r *AccountRepository) Create(ctx context.Context, account *types.UserAccount) (*types.UserAccount, error) {
	query := `
		INSERT INTO accounts (handle, encrypted_pin, wallet_address, auth_tier, risk_tier, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns + `
	`

	created, err := scanAccount(r.store.pool.QueryRow(ctx, query,
		account.Handle,
		account.EncryptedPIN,
		account.WalletAddress,
		int(account.AuthTier),
		int(account.RiskTier),
		account.LastActivity,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return created, nil
}

// UpdateLastActivity refreshes the last-activity instant. Concurrent
// refreshes for the same handle are last-write-wins.
func (r *AccountRepository) UpdateLastActivity(ctx context.Context, handle string, at time.Time) error {
	query := `
		UPDATE accounts
		SET last_activity = $2, updated_at = NOW()
		WHERE handle = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, handle, at)
	if err != nil {
		return fmt.Errorf("failed to update last activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no account for handle %s", handle)
	}
	return nil
}

// UpdatePIN replaces the sealed PIN.
func (r *AccountRepository) UpdatePIN(ctx context.Context, handle string, encryptedPIN []byte) error {
	query := `
		UPDATE accounts
		SET encrypted_pin = $2, updated_at = NOW()
		WHERE handle = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, handle, encryptedPIN)
	if err != nil {
		return fmt.Errorf("failed to update PIN: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no account for handle %s", handle)
	}
	return nil
}

// UpdateTiers sets the authorization and risk tiers. Only called after a
// verified user signature; tier changes are never relayed.
func (r *AccountRepository) UpdateTiers(ctx context.Context, handle string, authTier types.AuthTier, riskTier types.RiskTier) error {
	query := `
		UPDATE accounts
		SET auth_tier = $2, risk_tier = $3, updated_at = NOW()
		WHERE handle = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, handle, int(authTier), int(riskTier))
	if err != nil {
		return fmt.Errorf("failed to update tiers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no account for handle %s", handle)
	}
	return nil
}

// SetWalletAddress records the user's wallet address once known.
func (r *AccountRepository) SetWalletAddress(ctx context.Context, handle, address string) error {
	query := `
		UPDATE accounts
		SET wallet_address = $2, updated_at = NOW()
		WHERE handle = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, handle, address)
	if err != nil {
		return fmt.Errorf("failed to set wallet address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no account for handle %s", handle)
	}
	return nil
}
