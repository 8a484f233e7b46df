// Package ledger talks to the on-chain vault contract: live nonces,
// balances, and relayed or user-signed submissions.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// ErrReverted indicates the vault contract rejected the call. The action
// may succeed later (funds arrive, a racing nonce settles), so callers
// surface it as retryable.
var ErrReverted = errors.New("ledger call reverted")

// Call describes a vault action to submit.
type Call struct {
	Action types.ActionClass

	// From is the acting user's wallet address.
	From common.Address

	// To is the recipient (transfer, withdraw).
	To common.Address

	// Amount in base units (transfer, deposit, withdraw).
	Amount *big.Int

	// Requested profile values (profile change).
	AuthTier types.AuthTier
	RiskTier types.RiskTier

	// Nonce is the user's vault nonce the call is scoped to. Only
	// user-signed submissions carry it on-chain; relayed calls let the
	// vault consume the live nonce itself.
	Nonce uint64
}

// Receipt is the confirmed result of a submission.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
}

// Client is the vault contract contract consumed by the authorization
// core. Implemented by the eth-backed client and by test fakes.
type Client interface {
	// ChainID returns the chain the vault lives on.
	ChainID() int64

	// Nonce returns the user's live single-use vault nonce.
	Nonce(ctx context.Context, user common.Address) (uint64, error)

	// BalanceOf returns the user's wallet token balance.
	BalanceOf(ctx context.Context, user common.Address) (*big.Int, error)

	// VaultBalanceOf returns the user's vaulted balance.
	VaultBalanceOf(ctx context.Context, user common.Address) (*big.Int, error)

	// Submit performs a relay-authorized call with the server-held signer.
	Submit(ctx context.Context, call Call) (*Receipt, error)

	// SubmitSigned performs a user-authorized call, forwarding the user's
	// typed-data signature for on-chain verification.
	SubmitSigned(ctx context.Context, call Call, userSig []byte) (*Receipt, error)
}
