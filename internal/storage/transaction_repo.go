package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// Transaction statuses. A row only ever becomes "confirmed" after the
// ledger receipt is in hand; reverted submissions are recorded as
// "reverted", never as success.
const (
	TxStatusConfirmed = "confirmed"
	TxStatusReverted  = "reverted"
)

// Authorization routes recorded on a transaction row.
const (
	TxRouteRelay     = "relay"
	TxRouteSignature = "user_signature"
)

// Transaction is a recorded ledger action.
type Transaction struct {
	ID          uuid.UUID
	Handle      string
	Action      types.ActionClass
	Route       string
	ToAddress   *string
	ToHandle    *string
	Amount      *string
	TxHash      *string
	BlockNumber *int64
	Status      string
	Detail      *string
	CreatedAt   time.Time
}

// TransactionRepository handles transaction storage
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

// Create creates a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, handle, action, route, to_address, to_handle,
			amount, tx_hash, block_number, status, detail
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.store.pool.Exec(ctx, query,
		tx.ID,
		tx.Handle,
		string(tx.Action),
		tx.Route,
		tx.ToAddress,
		tx.ToHandle,
		tx.Amount,
		tx.TxHash,
		tx.BlockNumber,
		tx.Status,
		tx.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction record: %w", err)
	}

	return nil
}

// ListByHandle returns recent transactions for a handle, newest first.
func (r *TransactionRepository) ListByHandle(ctx context.Context, handle string, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, handle, action, route, to_address, to_handle,
		       amount, tx_hash, block_number, status, detail, created_at
		FROM transactions
		WHERE handle = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.store.pool.Query(ctx, query, handle, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var tx Transaction
		var action string
		if err := rows.Scan(
			&tx.ID,
			&tx.Handle,
			&action,
			&tx.Route,
			&tx.ToAddress,
			&tx.ToHandle,
			&tx.Amount,
			&tx.TxHash,
			&tx.BlockNumber,
			&tx.Status,
			&tx.Detail,
			&tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Action = types.ActionClass(action)
		out = append(out, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading transactions: %w", err)
	}

	return out, nil
}

// GetByID retrieves a single transaction record.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT id, handle, action, route, to_address, to_handle,
		       amount, tx_hash, block_number, status, detail, created_at
		FROM transactions
		WHERE id = $1
	`

	var tx Transaction
	var action string
	err := r.store.pool.QueryRow(ctx, query, id).Scan(
		&tx.ID,
		&tx.Handle,
		&action,
		&tx.Route,
		&tx.ToAddress,
		&tx.ToHandle,
		&tx.Amount,
		&tx.TxHash,
		&tx.BlockNumber,
		&tx.Status,
		&tx.Detail,
		&tx.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Action = types.ActionClass(action)

	return &tx, nil
}
