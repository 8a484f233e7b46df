// Package app orchestrates the authorization core: session evaluation,
// PIN re-authentication, policy routing, and either relayed execution or
// escalation to the web signing surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chat-wallet/chat-wallet/internal/ledger"
	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/metrics"
	"github.com/chat-wallet/chat-wallet/internal/policy"
	"github.com/chat-wallet/chat-wallet/internal/session"
	"github.com/chat-wallet/chat-wallet/internal/storage"
	"github.com/chat-wallet/chat-wallet/pkg/typeddata"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// AccountStore is the credential-store contract the service depends on.
// Implemented by storage.AccountRepository and by test fakes.
type AccountStore interface {
	GetByHandle(ctx context.Context, handle string) (*types.UserAccount, error)
	Create(ctx context.Context, account *types.UserAccount) (*types.UserAccount, error)
	UpdateLastActivity(ctx context.Context, handle string, at time.Time) error
	UpdatePIN(ctx context.Context, handle string, encryptedPIN []byte) error
	UpdateTiers(ctx context.Context, handle string, authTier types.AuthTier, riskTier types.RiskTier) error
	SetWalletAddress(ctx context.Context, handle, address string) error
}

// TransactionStore records executed and reverted ledger actions.
type TransactionStore interface {
	Create(ctx context.Context, tx *storage.Transaction) error
}

// ContactStore resolves contact aliases for recipient classification.
type ContactStore interface {
	Get(ctx context.Context, ownerHandle, alias string) (*storage.Contact, error)
	Upsert(ctx context.Context, c *storage.Contact) error
	List(ctx context.Context, ownerHandle string) ([]*storage.Contact, error)
	Delete(ctx context.Context, ownerHandle, alias string) error
}

// PinCipher seals and opens the stored PIN.
type PinCipher interface {
	Encrypt(ctx context.Context, data []byte) ([]byte, error)
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)
}

// ActionService is the action API exposed to the conversational
// transport and the signing surface.
type ActionService struct {
	accounts   AccountStore
	txs        TransactionStore
	contacts   ContactStore
	ledger     ledger.Client
	cipher     PinCipher
	evaluator  *session.Evaluator
	challenges *session.ChallengeStore

	domain         typeddata.Domain
	signingBaseURL string
}

// Options configures an ActionService.
type Options struct {
	Accounts       AccountStore
	Transactions   TransactionStore
	Contacts       ContactStore
	Ledger         ledger.Client
	Cipher         PinCipher
	Evaluator      *session.Evaluator
	Challenges     *session.ChallengeStore
	Domain         typeddata.Domain
	SigningBaseURL string
}

// NewActionService creates a new action service.
func NewActionService(opts Options) *ActionService {
	return &ActionService{
		accounts:       opts.Accounts,
		txs:            opts.Transactions,
		contacts:       opts.Contacts,
		ledger:         opts.Ledger,
		cipher:         opts.Cipher,
		evaluator:      opts.Evaluator,
		challenges:     opts.Challenges,
		domain:         opts.Domain,
		signingBaseURL: opts.SigningBaseURL,
	}
}

// Result statuses returned to the conversational transport.
const (
	StatusExecuted    = "executed"
	StatusEscalated   = "escalated"
	StatusPinRequired = "pin_required"
	StatusPinAccepted = "pin_accepted"
)

// ActionParams are the parsed parameters of a conversational command.
type ActionParams struct {
	// Recipient is a handle, a contact alias or a raw 0x address,
	// depending on the action.
	Recipient string

	// Amount in base units.
	Amount *big.Int

	// Requested profile values (profile change).
	AuthTier *types.AuthTier
	RiskTier *types.RiskTier
}

// Result is the outcome handed back to the conversational transport.
type Result struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	EscalationURL string `json:"escalation_url,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
}

// recipient is a classified, resolved recipient.
type recipient struct {
	class   types.RecipientClass
	address common.Address
	handle  string
}

// HandleAction runs one conversational action through the session and
// policy gates, then either executes it via the relay signer or returns
// an escalation deep link. now is injected for deterministic tests.
func (s *ActionService) HandleAction(ctx context.Context, rawHandle string, action types.ActionClass, params ActionParams, now time.Time) (*Result, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	ctx = logger.WithHandle(ctx, handle)

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		// Fail closed: an unreachable store never reads as active.
		return nil, apperrors.StoreUnavailable(err)
	}

	state := s.evaluator.Evaluate(account, s.challenges.Pending(handle, now), now)
	switch state {
	case types.SessionUnregistered:
		metrics.ActionsTotal.WithLabelValues(string(action), "rejected").Inc()
		return nil, apperrors.NotRegistered(handle)
	case types.SessionExpired, types.SessionAwaitingPin:
		// Issuing again overwrites any stale marker, so a lapsed
		// challenge does not strand the user.
		s.challenges.Issue(handle, now)
		metrics.ActionsTotal.WithLabelValues(string(action), "pin_required").Inc()
		logger.Info(ctx, "session expired, PIN challenge issued", "action", action)
		return &Result{
			Status:  StatusPinRequired,
			Message: "Your session has expired. Reply with your PIN to continue.",
		}, nil
	}

	if err := s.accounts.UpdateLastActivity(ctx, handle, now); err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	rcpt, err := s.resolveRecipient(ctx, account, action, params)
	if err != nil {
		return nil, err
	}

	decision := policy.Decide(action, rcpt.class, account.AuthTier)
	logger.Info(ctx, "policy decision",
		"action", action,
		"recipient_class", rcpt.class,
		"auth_tier", account.AuthTier.String(),
		"route", decision.Route.String(),
		"reason", decision.Reason)

	if decision.Route == policy.ExecuteImmediately {
		return s.executeRelayed(ctx, account, action, params, rcpt)
	}
	return s.escalate(ctx, account, action, params, rcpt)
}

// executeRelayed performs the action with the server-held signer and
// records the outcome. A revert is recorded as reverted and surfaced; it
// is never persisted as a success.
func (s *ActionService) executeRelayed(ctx context.Context, account *types.UserAccount, action types.ActionClass, params ActionParams, rcpt recipient) (*Result, error) {
	wallet, err := walletAddress(account)
	if err != nil {
		return nil, err
	}

	call := ledger.Call{
		Action: action,
		From:   wallet,
		To:     rcpt.address,
		Amount: params.Amount,
	}

	receipt, err := s.ledger.Submit(ctx, call)
	if err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			s.recordTransaction(ctx, account.Handle, action, TxRouteRelay, params, rcpt, nil, storage.TxStatusReverted, err.Error())
			metrics.ActionsTotal.WithLabelValues(string(action), "rejected").Inc()
			return nil, apperrors.LedgerRevert(err.Error())
		}
		return nil, apperrors.ErrInternalError
	}

	s.recordTransaction(ctx, account.Handle, action, TxRouteRelay, params, rcpt, receipt, storage.TxStatusConfirmed, "")
	metrics.ActionsTotal.WithLabelValues(string(action), "executed").Inc()
	logger.Info(ctx, "action relayed", "action", action, "tx_hash", receipt.TxHash)

	return &Result{
		Status:  StatusExecuted,
		Message: fmt.Sprintf("Done. Transaction %s confirmed in block %d.", receipt.TxHash, receipt.BlockNumber),
		TxHash:  receipt.TxHash,
	}, nil
}

// escalate builds the typed-data request against the live ledger nonce
// and returns a deep link to the signing surface. It does not wait for
// completion; the signing surface submits through SubmitSignature later.
func (s *ActionService) escalate(ctx context.Context, account *types.UserAccount, action types.ActionClass, params ActionParams, rcpt recipient) (*Result, error) {
	wallet, err := walletAddress(account)
	if err != nil {
		return nil, err
	}

	nonce, err := s.ledger.Nonce(ctx, wallet)
	if err != nil {
		return nil, apperrors.LedgerRevert(fmt.Sprintf("failed to read nonce: %v", err))
	}

	// Build validates that the action has a signature schema; an
	// unrecognized class is denied here before any state is touched.
	if _, err := typeddata.Build(s.domain, action, sigParams(params, rcpt), nonce); err != nil {
		return nil, apperrors.PolicyDenied(err.Error())
	}

	link := s.escalationURL(account.Handle, action, params, rcpt, nonce)
	metrics.ActionsTotal.WithLabelValues(string(action), "escalated").Inc()
	metrics.EscalationsTotal.WithLabelValues(string(action)).Inc()
	logger.Info(ctx, "action escalated to signature", "action", action, "nonce", nonce)

	return &Result{
		Status:        StatusEscalated,
		Message:       "This action needs your signature. Open the link to approve it.",
		EscalationURL: link,
	}, nil
}

// escalationURL embeds the action parameters and nonce scope into a deep
// link to the signing surface.
func (s *ActionService) escalationURL(handle string, action types.ActionClass, params ActionParams, rcpt recipient, nonce uint64) string {
	q := url.Values{}
	q.Set("handle", handle)
	q.Set("action", string(action))
	q.Set("nonce", strconv.FormatUint(nonce, 10))
	q.Set("chainId", strconv.FormatInt(s.domain.ChainID, 10))
	q.Set("contract", s.domain.VerifyingContract.Hex())
	if params.Amount != nil {
		q.Set("amount", params.Amount.String())
	}
	if rcpt.class == types.RecipientExternal {
		q.Set("to", rcpt.address.Hex())
	} else if rcpt.handle != "" && rcpt.handle != handle {
		q.Set("toHandle", rcpt.handle)
		q.Set("to", rcpt.address.Hex())
	}
	if params.AuthTier != nil {
		q.Set("authTier", params.AuthTier.String())
	}
	if params.RiskTier != nil {
		q.Set("riskTier", params.RiskTier.String())
	}
	return s.signingBaseURL + "/sign?" + q.Encode()
}

// resolveRecipient classifies and resolves the recipient of an action.
//
// Transfers accept a registered handle, a contact alias, or a raw
// address. Deposits move the user's own funds into the vault (internal).
// Withdrawals to the user's own wallet are internal; to anywhere else,
// external. Profile changes act on the user's own record (internal).
func (s *ActionService) resolveRecipient(ctx context.Context, account *types.UserAccount, action types.ActionClass, params ActionParams) (recipient, error) {
	self := recipient{class: types.RecipientInternal, handle: account.Handle}
	if account.WalletAddress != "" {
		self.address = common.HexToAddress(account.WalletAddress)
	}

	switch action {
	case types.ActionDeposit, types.ActionProfileChange:
		return self, nil

	case types.ActionWithdraw:
		if params.Recipient == "" {
			return self, nil
		}
		if !common.IsHexAddress(params.Recipient) {
			return recipient{}, apperrors.New(apperrors.ErrCodeBadRequest, "withdrawal target must be an address", 400)
		}
		addr := common.HexToAddress(params.Recipient)
		if account.WalletAddress != "" && addr == common.HexToAddress(account.WalletAddress) {
			return self, nil
		}
		return recipient{class: types.RecipientExternal, address: addr}, nil

	case types.ActionTransfer:
		return s.resolveTransferRecipient(ctx, account, params.Recipient)
	}

	// Unknown classes still need a classification for the fail-safe
	// policy row; treat as external (the stricter column).
	return recipient{class: types.RecipientExternal}, nil
}

func (s *ActionService) resolveTransferRecipient(ctx context.Context, account *types.UserAccount, raw string) (recipient, error) {
	if raw == "" {
		return recipient{}, apperrors.New(apperrors.ErrCodeBadRequest, "transfer recipient is required", 400)
	}

	if common.IsHexAddress(raw) {
		return recipient{class: types.RecipientExternal, address: common.HexToAddress(raw)}, nil
	}

	// A normalizable handle with a registered account is internal.
	if peer, err := types.NormalizeHandle(raw); err == nil {
		peerAccount, err := s.accounts.GetByHandle(ctx, peer)
		if err != nil {
			return recipient{}, apperrors.StoreUnavailable(err)
		}
		if peerAccount != nil {
			r := recipient{class: types.RecipientInternal, handle: peer}
			if peerAccount.WalletAddress != "" {
				r.address = common.HexToAddress(peerAccount.WalletAddress)
			}
			return r, nil
		}
		return recipient{}, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("no account registered for %s", peer), 404)
	}

	// Fall back to the sender's contact book.
	contact, err := s.contacts.Get(ctx, account.Handle, raw)
	if err != nil {
		return recipient{}, apperrors.StoreUnavailable(err)
	}
	if contact == nil {
		return recipient{}, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("unknown recipient %q", raw), 404)
	}
	if contact.PeerHandle != nil {
		return s.resolveTransferRecipient(ctx, account, *contact.PeerHandle)
	}
	return recipient{class: types.RecipientExternal, address: common.HexToAddress(*contact.Address)}, nil
}

// TxRouteRelay mirrors storage.TxRouteRelay for callers of this package.
const (
	TxRouteRelay     = storage.TxRouteRelay
	TxRouteSignature = storage.TxRouteSignature
)

// recordTransaction persists the outcome of a ledger submission. Failures
// to record are logged, not surfaced: the ledger already holds the truth.
func (s *ActionService) recordTransaction(ctx context.Context, handle string, action types.ActionClass, route string, params ActionParams, rcpt recipient, receipt *ledger.Receipt, status, detail string) {
	tx := &storage.Transaction{
		ID:     uuid.New(),
		Handle: handle,
		Action: action,
		Route:  route,
		Status: status,
	}
	if params.Amount != nil {
		amount := params.Amount.String()
		tx.Amount = &amount
	}
	if rcpt.address != (common.Address{}) {
		addr := rcpt.address.Hex()
		tx.ToAddress = &addr
	}
	if rcpt.handle != "" {
		h := rcpt.handle
		tx.ToHandle = &h
	}
	if receipt != nil {
		hash := receipt.TxHash
		block := int64(receipt.BlockNumber)
		tx.TxHash = &hash
		tx.BlockNumber = &block
	}
	if detail != "" {
		tx.Detail = &detail
	}

	if err := s.txs.Create(ctx, tx); err != nil {
		logger.Error(ctx, "failed to record transaction", "error", err, "action", action, "status", status)
	}
}

// sigParams converts action parameters to the typed-data form.
func sigParams(params ActionParams, rcpt recipient) typeddata.ActionParams {
	out := typeddata.ActionParams{
		To:     rcpt.address,
		Amount: params.Amount,
	}
	if params.AuthTier != nil {
		out.AuthTier = *params.AuthTier
	}
	if params.RiskTier != nil {
		out.RiskTier = *params.RiskTier
	}
	return out
}

func walletAddress(account *types.UserAccount) (common.Address, error) {
	if account.WalletAddress == "" {
		return common.Address{}, apperrors.New(apperrors.ErrCodeBadRequest, "no wallet registered for this account", 400)
	}
	return common.HexToAddress(account.WalletAddress), nil
}
