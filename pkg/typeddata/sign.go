package typeddata

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Sign produces a bare 65-byte signature over the request digest with an
// Ethereum-style recovery identifier (v in {27, 28}). This is the signing
// surface's client path; the server uses it only in tests and as the
// recommended post-sign sanity check.
func Sign(req *Request, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := req.Hash()
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	sig[64] += 27
	return sig, nil
}
