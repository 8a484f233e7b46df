package app

import (
	"context"
	"errors"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat-wallet/chat-wallet/internal/ledger"
	"github.com/chat-wallet/chat-wallet/internal/session"
	"github.com/chat-wallet/chat-wallet/internal/storage"
	"github.com/chat-wallet/chat-wallet/pkg/typeddata"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// --- in-memory fakes ---

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*types.UserAccount
	failures bool
}

func newFakeAccounts(accounts ...*types.UserAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*types.UserAccount)}
	for _, a := range accounts {
		f.accounts[a.Handle] = a
	}
	return f
}

func (f *fakeAccounts) GetByHandle(ctx context.Context, handle string) (*types.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures {
		return nil, errors.New("connection refused")
	}
	a, ok := f.accounts[handle]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) Create(ctx context.Context, account *types.UserAccount) (*types.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures {
		return nil, errors.New("connection refused")
	}
	cp := *account
	cp.CreatedAt = time.Now()
	f.accounts[account.Handle] = &cp
	return &cp, nil
}

func (f *fakeAccounts) UpdateLastActivity(ctx context.Context, handle string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures {
		return errors.New("connection refused")
	}
	f.accounts[handle].LastActivity = at
	return nil
}

func (f *fakeAccounts) UpdatePIN(ctx context.Context, handle string, encryptedPIN []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[handle].EncryptedPIN = encryptedPIN
	return nil
}

func (f *fakeAccounts) UpdateTiers(ctx context.Context, handle string, authTier types.AuthTier, riskTier types.RiskTier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[handle].AuthTier = authTier
	f.accounts[handle].RiskTier = riskTier
	return nil
}

func (f *fakeAccounts) SetWalletAddress(ctx context.Context, handle, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[handle].WalletAddress = address
	return nil
}

type fakeTxs struct {
	mu      sync.Mutex
	records []*storage.Transaction
}

func (f *fakeTxs) Create(ctx context.Context, tx *storage.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, tx)
	return nil
}

func (f *fakeTxs) last() *storage.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return nil
	}
	return f.records[len(f.records)-1]
}

type fakeContacts struct {
	mu       sync.Mutex
	contacts map[string]*storage.Contact
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{contacts: make(map[string]*storage.Contact)}
}

func (f *fakeContacts) key(owner, alias string) string { return owner + "|" + alias }

func (f *fakeContacts) Get(ctx context.Context, ownerHandle, alias string) (*storage.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[f.key(ownerHandle, alias)], nil
}

func (f *fakeContacts) Upsert(ctx context.Context, c *storage.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[f.key(c.OwnerHandle, c.Alias)] = c
	return nil
}

func (f *fakeContacts) List(ctx context.Context, ownerHandle string) ([]*storage.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Contact
	for _, c := range f.contacts {
		if c.OwnerHandle == ownerHandle {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContacts) Delete(ctx context.Context, ownerHandle, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contacts, f.key(ownerHandle, alias))
	return nil
}

type fakeLedger struct {
	mu           sync.Mutex
	nonce        uint64
	nonceErr     error
	submitErr    error
	submits      []ledger.Call
	signedCalls  []ledger.Call
	signedSigs   [][]byte
	walletBal    *big.Int
	vaultBal     *big.Int
	nextBlock    uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		walletBal: big.NewInt(10_000_000),
		vaultBal:  big.NewInt(5_000_000),
		nextBlock: 100,
	}
}

func (f *fakeLedger) ChainID() int64 { return 8453 }

func (f *fakeLedger) Nonce(ctx context.Context, user common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, f.nonceErr
}

func (f *fakeLedger) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return f.walletBal, nil
}

func (f *fakeLedger) VaultBalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return f.vaultBal, nil
}

func (f *fakeLedger) receipt() *ledger.Receipt {
	f.nextBlock++
	return &ledger.Receipt{TxHash: "0xabc123", BlockNumber: f.nextBlock}
}

func (f *fakeLedger) Submit(ctx context.Context, call ledger.Call) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits = append(f.submits, call)
	return f.receipt(), nil
}

func (f *fakeLedger) SubmitSigned(ctx context.Context, call ledger.Call, userSig []byte) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.signedCalls = append(f.signedCalls, call)
	f.signedSigs = append(f.signedSigs, userSig)
	f.nonce++
	return f.receipt(), nil
}

type fakeCipher struct{}

func (fakeCipher) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	return append([]byte("sealed:"), data...), nil
}

func (fakeCipher) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	raw, ok := strings.CutPrefix(string(encryptedData), "sealed:")
	if !ok {
		return nil, errors.New("bad ciphertext")
	}
	return []byte(raw), nil
}

// --- fixture ---

const (
	aliceHandle = "+15551234567"
	bobHandle   = "+15559876543"
	aliceWallet = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	bobWallet   = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
	externalAddr = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
)

type fixture struct {
	svc      *ActionService
	accounts *fakeAccounts
	txs      *fakeTxs
	contacts *fakeContacts
	chain    *fakeLedger
	now      time.Time
}

func newFixture(t *testing.T, accounts ...*types.UserAccount) *fixture {
	t.Helper()
	f := &fixture{
		accounts: newFakeAccounts(accounts...),
		txs:      &fakeTxs{},
		contacts: newFakeContacts(),
		chain:    newFakeLedger(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewActionService(Options{
		Accounts:     f.accounts,
		Transactions: f.txs,
		Contacts:     f.contacts,
		Ledger:       f.chain,
		Cipher:       fakeCipher{},
		Evaluator:    session.NewEvaluator(5 * time.Minute),
		Challenges:   session.NewChallengeStore(10 * time.Minute),
		Domain: typeddata.Domain{
			Name:              "ChatWallet",
			Version:           "1",
			ChainID:           8453,
			VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		},
		SigningBaseURL: "https://sign.example.com",
	})
	return f
}

func activeAccount(handle, wallet string, tier types.AuthTier, now time.Time) *types.UserAccount {
	return &types.UserAccount{
		Handle:        handle,
		EncryptedPIN:  []byte("sealed:4321"),
		WalletAddress: wallet,
		AuthTier:      tier,
		RiskTier:      types.RiskTierModerate,
		LastActivity:  now.Add(-time.Minute),
	}
}

func transferReq(amount int64) ActionParams {
	return ActionParams{Recipient: bobHandle, Amount: big.NewInt(amount)}
}

// --- HandleAction ---

func TestHandleAction_Unregistered(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, transferReq(100), f.now)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotRegistered))
}

func TestHandleAction_StoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, time.Now()))
	f.accounts.failures = true

	_, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, transferReq(100), f.now)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreUnavailable))
	assert.Empty(t, f.chain.submits, "nothing may execute when the store is down")
}

func TestHandleAction_ExpiredSessionIssuesChallenge(t *testing.T) {
	acct := activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0())
	acct.LastActivity = f0().Add(-time.Hour)
	f := newFixture(t, acct)

	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, transferReq(100), f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusPinRequired, res.Status)
	assert.Empty(t, f.chain.submits)

	// The action is still gated while the challenge is unanswered.
	res, err = f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, transferReq(100), f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusPinRequired, res.Status)
}

func TestHandleAction_NormalizesHandle(t *testing.T) {
	f := newFixture(t,
		activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0()),
		activeAccount(bobHandle, bobWallet, types.AuthTierLow, f0()))

	res, err := f.svc.HandleAction(context.Background(), "+1 (555) 123-4567", types.ActionTransfer, transferReq(100), f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
}

func TestHandleAction_InternalTransferMediumTierExecutes(t *testing.T) {
	f := newFixture(t,
		activeAccount(aliceHandle, aliceWallet, types.AuthTierMedium, f0()),
		activeAccount(bobHandle, bobWallet, types.AuthTierHigh, f0()))

	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, transferReq(250), f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, "0xabc123", res.TxHash)

	require.Len(t, f.chain.submits, 1)
	call := f.chain.submits[0]
	assert.Equal(t, types.ActionTransfer, call.Action)
	assert.Equal(t, common.HexToAddress(aliceWallet), call.From)
	assert.Equal(t, common.HexToAddress(bobWallet), call.To)
	assert.Equal(t, big.NewInt(250), call.Amount)

	rec := f.txs.last()
	require.NotNil(t, rec)
	assert.Equal(t, storage.TxStatusConfirmed, rec.Status)
	assert.Equal(t, storage.TxRouteRelay, rec.Route)
	assert.Equal(t, bobHandle, *rec.ToHandle)
}

func TestHandleAction_ExternalTransferMediumTierEscalates(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierMedium, f0()))
	f.chain.nonce = 7

	params := ActionParams{Recipient: externalAddr, Amount: big.NewInt(100)}
	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, params, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, res.Status)
	assert.Empty(t, f.chain.submits)

	u, err := url.Parse(res.EscalationURL)
	require.NoError(t, err)
	assert.Equal(t, "sign.example.com", u.Host)
	q := u.Query()
	assert.Equal(t, "7", q.Get("nonce"))
	assert.Equal(t, "transfer", q.Get("action"))
	assert.Equal(t, "100", q.Get("amount"))
	assert.Equal(t, common.HexToAddress(externalAddr).Hex(), q.Get("to"))
	assert.Equal(t, "8453", q.Get("chainId"))
}

func TestHandleAction_ExternalTransferLowTierExecutes(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0()))

	params := ActionParams{Recipient: externalAddr, Amount: big.NewInt(100)}
	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer, params, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
}

func TestHandleAction_ProfileChangeAlwaysEscalates(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0()))

	tier := types.AuthTierLow
	risk := types.RiskTierLow
	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionProfileChange,
		ActionParams{AuthTier: &tier, RiskTier: &risk}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, res.Status)
	assert.Empty(t, f.chain.submits)
}

func TestHandleAction_DepositIsInternal(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierMedium, f0()))

	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionDeposit,
		ActionParams{Amount: big.NewInt(500)}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
}

func TestHandleAction_WithdrawToOwnWalletIsInternal(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierMedium, f0()))

	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionWithdraw,
		ActionParams{Recipient: aliceWallet, Amount: big.NewInt(500)}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)

	// To a foreign address the same tier escalates.
	res, err = f.svc.HandleAction(context.Background(), aliceHandle, types.ActionWithdraw,
		ActionParams{Recipient: externalAddr, Amount: big.NewInt(500)}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, res.Status)
}

func TestHandleAction_ContactAliasResolution(t *testing.T) {
	f := newFixture(t,
		activeAccount(aliceHandle, aliceWallet, types.AuthTierMedium, f0()),
		activeAccount(bobHandle, bobWallet, types.AuthTierHigh, f0()))

	bob := bobHandle
	require.NoError(t, f.contacts.Upsert(context.Background(), &storage.Contact{
		OwnerHandle: aliceHandle, Alias: "bob", PeerHandle: &bob,
	}))
	addr := common.HexToAddress(externalAddr).Hex()
	require.NoError(t, f.contacts.Upsert(context.Background(), &storage.Contact{
		OwnerHandle: aliceHandle, Alias: "cold-storage", Address: &addr,
	}))

	// Alias to a registered handle resolves internal: immediate at medium.
	res, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer,
		ActionParams{Recipient: "bob", Amount: big.NewInt(10)}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)

	// Alias to a raw address resolves external: escalates at medium.
	res, err = f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer,
		ActionParams{Recipient: "cold-storage", Amount: big.NewInt(10)}, f.now)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, res.Status)
}

func TestHandleAction_UnknownRecipient(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0()))

	_, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer,
		ActionParams{Recipient: "nobody", Amount: big.NewInt(10)}, f.now)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	// An unregistered but well-formed handle is also not found.
	_, err = f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer,
		ActionParams{Recipient: "+15550001111", Amount: big.NewInt(10)}, f.now)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestHandleAction_RevertRecordedNotConfirmed(t *testing.T) {
	f := newFixture(t, activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0()))
	f.chain.submitErr = ledger.ErrReverted

	_, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionTransfer,
		ActionParams{Recipient: externalAddr, Amount: big.NewInt(10)}, f.now)
	require.True(t, apperrors.HasCode(err, apperrors.ErrCodeLedgerRevert))

	rec := f.txs.last()
	require.NotNil(t, rec)
	assert.Equal(t, storage.TxStatusReverted, rec.Status)
	assert.Nil(t, rec.TxHash)
}

func TestHandleAction_ActivityRefreshedOnHandledAction(t *testing.T) {
	acct := activeAccount(aliceHandle, aliceWallet, types.AuthTierLow, f0())
	acct.LastActivity = f0().Add(-4 * time.Minute)
	f := newFixture(t, acct)

	_, err := f.svc.HandleAction(context.Background(), aliceHandle, types.ActionDeposit,
		ActionParams{Amount: big.NewInt(10)}, f.now)
	require.NoError(t, err)

	got, err := f.accounts.GetByHandle(context.Background(), aliceHandle)
	require.NoError(t, err)
	assert.Equal(t, f.now, got.LastActivity)
}

func f0() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}
