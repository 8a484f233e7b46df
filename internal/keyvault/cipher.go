// Package keyvault guards the service's secrets: the per-user encrypted
// PIN column and the server-held relay key. Sealing is delegated to a
// pluggable cipher backend (local AES-GCM, AWS KMS, or HashiCorp Vault
// Transit); the relay key additionally lives as a 2-of-2 Shamir split so
// neither the database nor the cipher backend alone can reconstruct it.
package keyvault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"
)

// Cipher seals and opens small secrets (PINs, key shares).
type Cipher interface {
	// Encrypt encrypts data using the backend
	Encrypt(ctx context.Context, data []byte) ([]byte, error)

	// Decrypt decrypts data using the backend
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)

	// Provider returns the backend name (e.g., "local", "aws-kms", "vault")
	Provider() string
}

// BackendType represents supported cipher backends
type BackendType string

const (
	// BackendLocal uses a locally-derived AES-GCM key (development/simple deployments)
	BackendLocal BackendType = "local"

	// BackendAWSKMS uses AWS KMS
	BackendAWSKMS BackendType = "aws-kms"

	// BackendVault uses HashiCorp Vault Transit engine
	BackendVault BackendType = "vault"
)

// Config contains configuration for cipher backends
type Config struct {
	// Backend specifies which cipher backend to use
	Backend string

	// Local backend config
	LocalMasterSecret string

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NewCipher creates a Cipher based on the configuration.
func NewCipher(cfg *Config) (Cipher, error) {
	switch BackendType(cfg.Backend) {
	case BackendLocal:
		return NewLocalCipher(cfg.LocalMasterSecret)
	case BackendAWSKMS:
		return NewAWSKMSCipher(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case BackendVault:
		return NewVaultCipher(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unknown cipher backend: %s", cfg.Backend)
	}
}

// LocalCipher implements Cipher with AES-GCM under a key derived from the
// configured master secret via HKDF-SHA256. Suitable for development or
// simple self-hosted deployments.
type LocalCipher struct {
	key []byte
}

// localKeyInfo domain-separates the derived key from any other use of the
// same master secret.
const localKeyInfo = "chat-wallet/keyvault/v1"

// NewLocalCipher creates a local cipher from a master secret.
func NewLocalCipher(masterSecret string) (*LocalCipher, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is required for local cipher backend")
	}

	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(localKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive local key: %w", err)
	}

	return &LocalCipher{key: key}, nil
}

// Encrypt encrypts data using AES-GCM with the derived key
func (c *LocalCipher) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data using AES-GCM with the derived key
func (c *LocalCipher) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// Provider returns the backend name
func (c *LocalCipher) Provider() string {
	return string(BackendLocal)
}

// AWSKMSCipher implements Cipher using AWS KMS
type AWSKMSCipher struct {
	keyID  string
	region string
	client *kms.Client
}

// NewAWSKMSCipher creates a new AWS KMS cipher
func NewAWSKMSCipher(keyID, region string) (*AWSKMSCipher, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSCipher{
		keyID:  keyID,
		region: region,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts data using AWS KMS
func (c *AWSKMSCipher) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	output, err := c.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(c.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt decrypts data using AWS KMS
func (c *AWSKMSCipher) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	output, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(c.keyID),
		CiphertextBlob: encryptedData,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the backend name
func (c *AWSKMSCipher) Provider() string {
	return string(BackendAWSKMS)
}

// VaultCipher implements Cipher using HashiCorp Vault Transit engine
type VaultCipher struct {
	transitKey string
	client     *vault.Client
}

// NewVaultCipher creates a new Vault cipher
func NewVaultCipher(address, token, transitKey string) (*VaultCipher, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("Vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("Vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	client.SetToken(token)

	return &VaultCipher{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt encrypts data using Vault Transit engine
func (c *VaultCipher) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	// Vault Transit requires base64-encoded plaintext
	plaintext := base64.StdEncoding.EncodeToString(data)

	path := fmt.Sprintf("transit/encrypt/%s", c.transitKey)
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit encrypt failed: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit encrypt: ciphertext not found in response")
	}

	// Ciphertext is a vault:v1:... string
	return []byte(ciphertext), nil
}

// Decrypt decrypts data using Vault Transit engine
func (c *VaultCipher) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", c.transitKey)
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(encryptedData),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext: %w", err)
	}

	return plaintext, nil
}

// Provider returns the backend name
func (c *VaultCipher) Provider() string {
	return string(BackendVault)
}
