package app

import (
	"context"
	"crypto/subtle"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/session"
	"github.com/chat-wallet/chat-wallet/internal/storage"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// Register creates an account record for a handle. New accounts start on
// the most restrictive authorization tier; the user loosens it later with
// a signed profile change.
func (s *ActionService) Register(ctx context.Context, rawHandle, rawPin, walletAddr string, now time.Time) (*types.UserAccount, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	ctx = logger.WithHandle(ctx, handle)

	if !session.ValidPinFormat(rawPin) {
		return nil, apperrors.ErrInvalidPinFormat
	}
	if walletAddr != "" && !common.IsHexAddress(walletAddr) {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "wallet address is not a valid hex address", 400)
	}

	existing, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "an account already exists for this identifier", 409)
	}

	sealed, err := s.cipher.Encrypt(ctx, []byte(rawPin))
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	account := &types.UserAccount{
		Handle:       handle,
		EncryptedPIN: sealed,
		AuthTier:     types.AuthTierHigh,
		RiskTier:     types.RiskTierModerate,
		LastActivity: now,
	}
	if walletAddr != "" {
		account.WalletAddress = common.HexToAddress(walletAddr).Hex()
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	logger.Info(ctx, "account registered", "auth_tier", created.AuthTier.String())
	return created, nil
}

// ChangePin replaces the stored PIN. The current PIN must be supplied and
// match; this is its own proof of presence, so no challenge is involved.
func (s *ActionService) ChangePin(ctx context.Context, rawHandle, currentPin, newPin string) error {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	ctx = logger.WithHandle(ctx, handle)

	if !session.ValidPinFormat(newPin) {
		return apperrors.ErrInvalidPinFormat
	}

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return apperrors.NotRegistered(handle)
	}

	current, err := s.cipher.Decrypt(ctx, account.EncryptedPIN)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if subtle.ConstantTimeCompare(current, []byte(currentPin)) != 1 {
		return apperrors.ErrIncorrectPin
	}

	sealedNew, err := s.cipher.Encrypt(ctx, []byte(newPin))
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if err := s.accounts.UpdatePIN(ctx, handle, sealedNew); err != nil {
		return apperrors.StoreUnavailable(err)
	}

	logger.Info(ctx, "PIN changed")
	return nil
}

// LinkWallet attaches a wallet address to an existing account.
func (s *ActionService) LinkWallet(ctx context.Context, rawHandle, walletAddr string) error {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	if !common.IsHexAddress(walletAddr) {
		return apperrors.New(apperrors.ErrCodeBadRequest, "wallet address is not a valid hex address", 400)
	}

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return apperrors.NotRegistered(handle)
	}

	if err := s.accounts.SetWalletAddress(ctx, handle, common.HexToAddress(walletAddr).Hex()); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Balances is a user's wallet and vault token balances.
type Balances struct {
	Wallet *big.Int `json:"wallet"`
	Vault  *big.Int `json:"vault"`
}

// Balance reads the user's wallet and vault balances from the ledger.
func (s *ActionService) Balance(ctx context.Context, rawHandle string) (*Balances, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return nil, apperrors.NotRegistered(handle)
	}
	wallet, err := walletAddress(account)
	if err != nil {
		return nil, err
	}

	walletBal, err := s.ledger.BalanceOf(ctx, wallet)
	if err != nil {
		return nil, apperrors.LedgerRevert(err.Error())
	}
	vaultBal, err := s.ledger.VaultBalanceOf(ctx, wallet)
	if err != nil {
		return nil, apperrors.LedgerRevert(err.Error())
	}

	return &Balances{Wallet: walletBal, Vault: vaultBal}, nil
}

// SaveContact creates or replaces a contact alias. Exactly one of
// peerHandle and address must be set.
func (s *ActionService) SaveContact(ctx context.Context, rawHandle, alias, peerHandle, address string) error {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	if alias == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "contact alias is required", 400)
	}

	c := &storage.Contact{OwnerHandle: handle, Alias: alias}
	switch {
	case peerHandle != "" && address != "":
		return apperrors.New(apperrors.ErrCodeBadRequest, "contact takes a handle or an address, not both", 400)
	case peerHandle != "":
		normalized, err := types.NormalizeHandle(peerHandle)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
		}
		c.PeerHandle = &normalized
	case address != "":
		if !common.IsHexAddress(address) {
			return apperrors.New(apperrors.ErrCodeBadRequest, "contact address is not a valid hex address", 400)
		}
		checksummed := common.HexToAddress(address).Hex()
		c.Address = &checksummed
	default:
		return apperrors.New(apperrors.ErrCodeBadRequest, "contact needs a handle or an address", 400)
	}

	if err := s.contacts.Upsert(ctx, c); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// ListContacts returns the owner's contact book.
func (s *ActionService) ListContacts(ctx context.Context, rawHandle string) ([]*storage.Contact, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	contacts, err := s.contacts.List(ctx, handle)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return contacts, nil
}

// DeleteContact removes a contact alias.
func (s *ActionService) DeleteContact(ctx context.Context, rawHandle, alias string) error {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	if err := s.contacts.Delete(ctx, handle, alias); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}
