package typeddata

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

func testDomain() Domain {
	return Domain{
		Name:              "ChatWallet",
		Version:           "1",
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func transferParams() ActionParams {
	return ActionParams{
		To:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount: big.NewInt(1_000_000),
	}
}

func TestBuild_TypeNames(t *testing.T) {
	tests := []struct {
		action types.ActionClass
		want   string
	}{
		{types.ActionTransfer, TypeTransfer},
		{types.ActionDeposit, TypeDeposit},
		{types.ActionWithdraw, TypeWithdraw},
		{types.ActionProfileChange, TypeProfileChange},
	}
	for _, tt := range tests {
		params := transferParams()
		req, err := Build(testDomain(), tt.action, params, 1)
		require.NoError(t, err, tt.action)
		assert.Equal(t, tt.want, req.TypeName)
		assert.Equal(t, uint64(1), req.Nonce)
	}
}

func TestBuild_UnknownAction(t *testing.T) {
	_, err := Build(testDomain(), types.ActionClass("mint"), transferParams(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signature schema")
}

func TestBuild_RejectsNonPositiveAmounts(t *testing.T) {
	for _, action := range []types.ActionClass{types.ActionTransfer, types.ActionDeposit, types.ActionWithdraw} {
		params := transferParams()
		params.Amount = nil
		_, err := Build(testDomain(), action, params, 1)
		assert.Error(t, err, "%s nil amount", action)

		params.Amount = big.NewInt(0)
		_, err = Build(testDomain(), action, params, 1)
		assert.Error(t, err, "%s zero amount", action)

		params.Amount = big.NewInt(-5)
		_, err = Build(testDomain(), action, params, 1)
		assert.Error(t, err, "%s negative amount", action)
	}

	// Profile changes carry no amount.
	_, err := Build(testDomain(), types.ActionProfileChange, ActionParams{
		AuthTier: types.AuthTierLow,
		RiskTier: types.RiskTierLow,
	}, 1)
	assert.NoError(t, err)
}

func TestHash_Deterministic(t *testing.T) {
	a, err := Build(testDomain(), types.ActionTransfer, transferParams(), 7)
	require.NoError(t, err)
	b, err := Build(testDomain(), types.ActionTransfer, transferParams(), 7)
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)

	assert.Len(t, ha, 32)
	assert.Equal(t, ha, hb, "identical requests must hash identically")
}

func TestHash_SensitiveToEveryInput(t *testing.T) {
	base, err := Build(testDomain(), types.ActionTransfer, transferParams(), 7)
	require.NoError(t, err)
	baseHash, err := base.Hash()
	require.NoError(t, err)

	variants := []struct {
		name   string
		domain Domain
		action types.ActionClass
		params ActionParams
		nonce  uint64
	}{
		{
			name: "different nonce", domain: testDomain(),
			action: types.ActionTransfer, params: transferParams(), nonce: 8,
		},
		{
			name: "different amount", domain: testDomain(),
			action: types.ActionTransfer,
			params: ActionParams{To: transferParams().To, Amount: big.NewInt(2_000_000)},
			nonce:  7,
		},
		{
			name: "different recipient", domain: testDomain(),
			action: types.ActionTransfer,
			params: ActionParams{To: common.HexToAddress("0x3333333333333333333333333333333333333333"), Amount: big.NewInt(1_000_000)},
			nonce:  7,
		},
		{
			name: "different action with same fields", domain: testDomain(),
			action: types.ActionWithdraw, params: transferParams(), nonce: 7,
		},
		{
			name: "different chain", domain: Domain{
				Name: "ChatWallet", Version: "1", ChainID: 1,
				VerifyingContract: testDomain().VerifyingContract,
			},
			action: types.ActionTransfer, params: transferParams(), nonce: 7,
		},
		{
			name: "different contract", domain: Domain{
				Name: "ChatWallet", Version: "1", ChainID: 8453,
				VerifyingContract: common.HexToAddress("0x4444444444444444444444444444444444444444"),
			},
			action: types.ActionTransfer, params: transferParams(), nonce: 7,
		},
	}

	for _, tt := range variants {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Build(tt.domain, tt.action, tt.params, tt.nonce)
			require.NoError(t, err)
			h, err := req.Hash()
			require.NoError(t, err)
			assert.NotEqual(t, baseHash, h)
		})
	}
}
