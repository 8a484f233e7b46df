package typeddata

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
	"github.com/chat-wallet/chat-wallet/pkg/types"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	req, err := Build(testDomain(), types.ActionTransfer, transferParams(), 42)
	require.NoError(t, err)

	sig, err := Sign(req, key)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	assert.NoError(t, Verify(signer, req, sig))
}

func TestVerify_AcceptsBothRecoveryIDConventions(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	req, err := Build(testDomain(), types.ActionDeposit, transferParams(), 1)
	require.NoError(t, err)

	sig, err := Sign(req, key)
	require.NoError(t, err)
	require.GreaterOrEqual(t, sig[64], byte(27))

	assert.NoError(t, Verify(signer, req, sig))

	raw := make([]byte, len(sig))
	copy(raw, sig)
	raw[64] -= 27
	assert.NoError(t, Verify(signer, req, raw))
}

func TestVerify_WrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	req, err := Build(testDomain(), types.ActionTransfer, transferParams(), 1)
	require.NoError(t, err)

	sig, err := Sign(req, otherKey)
	require.NoError(t, err)

	err = Verify(crypto.PubkeyToAddress(key.PublicKey), req, sig)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
}

func TestVerify_TamperedRequest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	req, err := Build(testDomain(), types.ActionTransfer, transferParams(), 1)
	require.NoError(t, err)
	sig, err := Sign(req, key)
	require.NoError(t, err)

	// The same signature over a request with a bumped nonce recovers a
	// different address.
	bumped, err := Build(testDomain(), types.ActionTransfer, transferParams(), 2)
	require.NoError(t, err)

	err = Verify(signer, bumped, sig)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
}

func TestVerify_BadSignatureShape(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	req, err := Build(testDomain(), types.ActionTransfer, transferParams(), 1)
	require.NoError(t, err)

	err = Verify(signer, req, []byte{0x01, 0x02})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))

	sig, err := Sign(req, key)
	require.NoError(t, err)
	sig[64] = 5 // not a recovery id under either convention
	err = Verify(signer, req, sig)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
}

func TestWrapUnwrap(t *testing.T) {
	factory := transferParams().To
	inner := []byte("inner-signature-bytes")
	deployArgs := []byte{0xde, 0xad, 0xbe, 0xef}

	wrapped, err := Wrap(factory, deployArgs, inner)
	require.NoError(t, err)
	assert.True(t, IsWrapped(wrapped))
	assert.False(t, IsWrapped(inner))

	w, err := Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, factory, w.Target)
	assert.Equal(t, deployArgs, w.Args)
	assert.Equal(t, inner, w.Inner)
}

func TestUnwrap_Malformed(t *testing.T) {
	factory := transferParams().To

	t.Run("no trailer", func(t *testing.T) {
		_, err := Unwrap([]byte("just bytes"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedWrapper))
	})

	t.Run("trailer on garbage body", func(t *testing.T) {
		sig := append([]byte{0x01, 0x02, 0x03}, magicTrailer...)
		_, err := Unwrap(sig)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedWrapper))
	})

	t.Run("zero target", func(t *testing.T) {
		wrapped, err := Wrap(common.Address{}, nil, []byte("sig"))
		require.NoError(t, err)
		_, err = Unwrap(wrapped)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedWrapper))
	})

	t.Run("empty inner signature", func(t *testing.T) {
		wrapped, err := Wrap(factory, nil, nil)
		require.NoError(t, err)
		_, err = Unwrap(wrapped)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedWrapper))
	})
}

func TestVerify_WrappedSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)
	factory := transferParams().To

	req, err := Build(testDomain(), types.ActionWithdraw, transferParams(), 9)
	require.NoError(t, err)

	bare, err := Sign(req, key)
	require.NoError(t, err)

	// Wrapped at every depth up to the bound, the verdict matches the
	// bare signature's.
	sig := bare
	for depth := 1; depth <= MaxUnwrapDepth; depth++ {
		sig, err = Wrap(factory, []byte{byte(depth)}, sig)
		require.NoError(t, err)
		assert.NoError(t, Verify(signer, req, sig), "depth %d", depth)
	}

	// One level past the bound is rejected.
	sig, err = Wrap(factory, nil, sig)
	require.NoError(t, err)
	err = Verify(signer, req, sig)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnwrapDepth))
}

func TestVerify_WrappedWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	req, err := Build(testDomain(), types.ActionTransfer, transferParams(), 1)
	require.NoError(t, err)

	bare, err := Sign(req, otherKey)
	require.NoError(t, err)
	wrapped, err := Wrap(transferParams().To, nil, bare)
	require.NoError(t, err)

	// Wrapping changes nothing about whose signature it is.
	err = Verify(crypto.PubkeyToAddress(key.PublicKey), req, wrapped)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
}
