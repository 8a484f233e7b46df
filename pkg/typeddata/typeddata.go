// Package typeddata implements the structured-signature protocol: it
// builds domain-separated EIP-712 messages bound to a live ledger nonce,
// and verifies signatures over them, including deferred-deployment
// wrappers produced by wallets that are not yet deployed on-chain.
package typeddata

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// Domain is the EIP-712 domain separator input. Every signature is valid
// only under the exact domain that produced it.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Type names as verified by the vault contract. The field order and types
// below must mirror the contract-side schema exactly; any divergence is
// rejected at verification, which is the intended replay protection, not
// a case to paper over.
const (
	TypeTransfer      = "Transfer"
	TypeDeposit       = "Deposit"
	TypeWithdraw      = "Withdraw"
	TypeProfileChange = "ProfileChange"
)

// ActionParams carries the action parameters bound into the signed
// message. Unused fields for a given type are ignored.
type ActionParams struct {
	// To is the recipient address (Transfer, Withdraw).
	To common.Address
	// Amount is the token amount in base units (Transfer, Deposit, Withdraw).
	Amount *big.Int
	// AuthTier and RiskTier are the requested profile values (ProfileChange).
	AuthTier types.AuthTier
	RiskTier types.RiskTier
}

// Request is a fully-assembled signing request: domain, primary type,
// ordered fields and the single-use ledger nonce they are bound to.
type Request struct {
	Domain   Domain
	TypeName string
	Nonce    uint64

	typed apitypes.TypedData
}

// typeSchemas declares the ordered, typed fields per primary type.
var typeSchemas = map[string][]apitypes.Type{
	TypeTransfer: {
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeDeposit: {
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeWithdraw: {
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeProfileChange: {
		{Name: "authTier", Type: "uint8"},
		{Name: "riskTier", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
	},
}

// TypeNameFor maps an action class to its primary type name.
func TypeNameFor(action types.ActionClass) (string, error) {
	switch action {
	case types.ActionTransfer:
		return TypeTransfer, nil
	case types.ActionDeposit:
		return TypeDeposit, nil
	case types.ActionWithdraw:
		return TypeWithdraw, nil
	case types.ActionProfileChange:
		return TypeProfileChange, nil
	}
	return "", fmt.Errorf("no signature schema for action class %q", action)
}

// Build assembles a deterministic signing request for an action. The
// nonce must have been fetched from the ledger immediately beforehand; it
// is single-use and consumed by the ledger on successful execution.
func Build(domain Domain, action types.ActionClass, params ActionParams, nonce uint64) (*Request, error) {
	typeName, err := TypeNameFor(action)
	if err != nil {
		return nil, err
	}

	message := apitypes.TypedDataMessage{
		"nonce": (*math.HexOrDecimal256)(new(big.Int).SetUint64(nonce)),
	}
	switch typeName {
	case TypeTransfer, TypeWithdraw:
		if params.Amount == nil || params.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("amount must be positive")
		}
		message["to"] = params.To.Hex()
		message["amount"] = (*math.HexOrDecimal256)(params.Amount)
	case TypeDeposit:
		if params.Amount == nil || params.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("amount must be positive")
		}
		message["amount"] = (*math.HexOrDecimal256)(params.Amount)
	case TypeProfileChange:
		message["authTier"] = (*math.HexOrDecimal256)(big.NewInt(int64(params.AuthTier)))
		message["riskTier"] = (*math.HexOrDecimal256)(big.NewInt(int64(params.RiskTier)))
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			typeName: typeSchemas[typeName],
		},
		PrimaryType: typeName,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}

	return &Request{
		Domain:   domain,
		TypeName: typeName,
		Nonce:    nonce,
		typed:    typed,
	}, nil
}

// Hash computes the EIP-712 digest of the request:
// keccak256(0x1901 || domainSeparator || hashStruct(message)).
func (r *Request) Hash() ([]byte, error) {
	domainSeparator, err := r.typed.HashStruct("EIP712Domain", r.typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := r.typed.HashStruct(r.typed.PrimaryType, r.typed.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", domainSeparator, messageHash))
	return crypto.Keccak256(rawData), nil
}

// TypedData exposes the underlying EIP-712 structure, e.g. for embedding
// into the escalation payload handed to the signing surface.
func (r *Request) TypedData() apitypes.TypedData {
	return r.typed
}
