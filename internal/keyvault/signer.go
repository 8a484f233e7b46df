package keyvault

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// RelaySigner holds the reconstructed server relay key and signs on
// behalf of the service when policy allows immediate execution.
type RelaySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewRelaySigner reconstructs the relay key from its database share and
// its cipher-sealed share.
func NewRelaySigner(ctx context.Context, c Cipher, storeShare, sealedShare []byte) (*RelaySigner, error) {
	plainShare, err := c.Decrypt(ctx, sealedShare)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal relay key share: %w", err)
	}

	keyBytes, err := CombineRelayKey(storeShare, plainShare)
	zero(plainShare)
	if err != nil {
		return nil, err
	}

	key, err := crypto.ToECDSA(keyBytes)
	zero(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay key: %w", err)
	}

	return &RelaySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// GenerateRelayKey creates a fresh relay key and returns its share set
// (sealed share already encrypted) together with the signer address. Used
// at bootstrap; the caller persists both shares.
func GenerateRelayKey(ctx context.Context, c Cipher) (*ShareSet, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to generate relay key: %w", err)
	}

	keyBytes := crypto.FromECDSA(key)
	shares, err := SplitRelayKey(keyBytes)
	zero(keyBytes)
	if err != nil {
		return nil, common.Address{}, err
	}

	sealed, err := c.Encrypt(ctx, shares.SealedShare)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to seal relay key share: %w", err)
	}
	zero(shares.SealedShare)
	shares.SealedShare = sealed

	return shares, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Address returns the relay signer's address.
func (s *RelaySigner) Address() common.Address {
	return s.address
}

// SignTx signs a transaction for the given chain.
func (s *RelaySigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// SignHash signs a 32-byte digest, returning a 65-byte signature with an
// Ethereum-style recovery identifier.
func (s *RelaySigner) SignHash(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
