package typeddata

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// MaxUnwrapDepth bounds deployment-wrapper nesting. A wallet deployed by a
// factory that is itself counterfactual gives depth 2; anything past 3 is
// treated as hostile input.
const MaxUnwrapDepth = 3

// magicTrailer marks a deployment-wrapped signature: the byte sequence
// 0x6492 repeated to 32 bytes, appended after the ABI-encoded wrapper.
var magicTrailer = bytes.Repeat([]byte{0x64, 0x92}, 16)

// DeploymentWrapper is the decoded form of a wrapped signature. It lets a
// verifier reason about what the wallet's signature check would say once
// deployed, without requiring deployment first.
type DeploymentWrapper struct {
	// Target is the factory that will deploy the wallet.
	Target common.Address
	// Args is the calldata that performs the deployment.
	Args []byte
	// Inner is the enclosed signature; it may itself be wrapped.
	Inner []byte
}

// wrapperArgs is the ABI layout of the wrapper body.
var wrapperArgs = func() abi.Arguments {
	addressT, _ := abi.NewType("address", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{
		{Name: "target", Type: addressT},
		{Name: "args", Type: bytesT},
		{Name: "inner", Type: bytesT},
	}
}()

// IsWrapped reports whether sig carries the deployment-wrapper trailer.
func IsWrapped(sig []byte) bool {
	return len(sig) > len(magicTrailer) && bytes.HasSuffix(sig, magicTrailer)
}

// Wrap encodes a deployment wrapper around an inner signature. Produced
// client-side for counterfactual wallets; mirrored here so the server can
// round-trip its own test vectors.
func Wrap(target common.Address, deployArgs, inner []byte) ([]byte, error) {
	body, err := wrapperArgs.Pack(target, deployArgs, inner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack wrapper: %w", err)
	}
	return append(body, magicTrailer...), nil
}

// Unwrap decodes one level of deployment wrapper.
func Unwrap(sig []byte) (*DeploymentWrapper, error) {
	if !IsWrapped(sig) {
		return nil, apperrors.MalformedWrapper("missing magic trailer")
	}

	body := sig[:len(sig)-len(magicTrailer)]
	values, err := wrapperArgs.Unpack(body)
	if err != nil {
		return nil, apperrors.MalformedWrapper(fmt.Sprintf("abi decode: %v", err))
	}

	target, ok := values[0].(common.Address)
	if !ok {
		return nil, apperrors.MalformedWrapper("wrapper target is not an address")
	}
	args, ok := values[1].([]byte)
	if !ok {
		return nil, apperrors.MalformedWrapper("wrapper args are not bytes")
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, apperrors.MalformedWrapper("wrapper inner signature is not bytes")
	}
	if target == (common.Address{}) {
		return nil, apperrors.MalformedWrapper("wrapper target is the zero address")
	}
	if len(inner) == 0 {
		return nil, apperrors.MalformedWrapper("wrapper inner signature is empty")
	}

	return &DeploymentWrapper{Target: target, Args: args, Inner: inner}, nil
}

// Verify checks sig over the request digest against the claimed signer.
// Deployment wrappers are unwrapped recursively, bounded by
// MaxUnwrapDepth; the innermost bare signature decides the result, so
// verifying a wrapped signature and verifying its innermost signature
// directly always agree.
//
// Failure modes are distinguishable by error code: invalid_signature for
// signer mismatch, malformed_wrapper for parse failures, and
// unwrap_depth_exceeded for over-nesting. Nonce staleness is the caller's
// check: it requires the live ledger nonce, which this package never reads.
func Verify(claimedSigner common.Address, req *Request, sig []byte) error {
	digest, err := req.Hash()
	if err != nil {
		return err
	}
	return verifyDigest(claimedSigner, digest, sig)
}

func verifyDigest(claimedSigner common.Address, digest, sig []byte) error {
	for depth := 0; IsWrapped(sig); depth++ {
		if depth >= MaxUnwrapDepth {
			return apperrors.UnwrapDepthExceeded(MaxUnwrapDepth)
		}
		wrapper, err := Unwrap(sig)
		if err != nil {
			return err
		}
		sig = wrapper.Inner
	}
	return verifyBare(claimedSigner, digest, sig)
}

// verifyBare recovers the secp256k1 signer from a 65-byte signature and
// compares it to the claimed signer.
func verifyBare(claimedSigner common.Address, digest, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return apperrors.InvalidSignature(fmt.Sprintf("signature length %d, want %d", len(sig), crypto.SignatureLength))
	}

	// Accept both 0/1 and Ethereum-style 27/28 recovery identifiers.
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return apperrors.InvalidSignature(fmt.Sprintf("invalid recovery id %d", sig[64]))
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return apperrors.InvalidSignature(fmt.Sprintf("recover: %v", err))
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != claimedSigner {
		return apperrors.InvalidSignature(fmt.Sprintf("recovered %s, claimed %s", recovered.Hex(), claimedSigner.Hex()))
	}
	return nil
}
