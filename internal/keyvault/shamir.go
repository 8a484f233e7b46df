package keyvault

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// The relay key is held as a 2-of-2 Shamir split: one share in the
// database, one sealed by the cipher backend. Both are required to
// reconstruct the key, so neither a database dump nor a cipher-backend
// compromise alone exposes it.

// ShareSet is a 2-of-2 split of the relay key.
type ShareSet struct {
	// StoreShare is persisted in PostgreSQL.
	StoreShare []byte

	// SealedShare is persisted cipher-sealed next to it.
	SealedShare []byte
}

// SplitRelayKey splits key material into a 2-of-2 share set.
func SplitRelayKey(key []byte) (*ShareSet, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("key cannot be empty")
	}

	shares, err := shamir.Split(key, 2, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split key with Shamir's Secret Sharing: %w", err)
	}

	return &ShareSet{
		StoreShare:  shares[0],
		SealedShare: shares[1],
	}, nil
}

// CombineRelayKey reconstructs the relay key from both shares.
func CombineRelayKey(storeShare, sealedShare []byte) ([]byte, error) {
	if len(storeShare) == 0 || len(sealedShare) == 0 {
		return nil, fmt.Errorf("both shares are required")
	}

	// Shamir shares carry a 1-byte index suffix over the secret length;
	// a 32-byte key yields 33-byte shares.
	if len(storeShare) < 33 || len(sealedShare) < 33 {
		return nil, fmt.Errorf("share too short: expected at least 33 bytes")
	}

	key, err := shamir.Combine([][]byte{storeShare, sealedShare})
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}

	return key, nil
}
