package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"

	"github.com/armysheng/ai-mail/internal/syncerrors"
)

const (
	keyLength = 32 // AES-256

	// scrypt parameters; deliberately slow, the derived key is cached
	// for the process lifetime.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var scryptSalt = []byte("ai-mail-credential-vault")

type Config struct {
	MasterKey string `env:"VAULT_MASTER_KEY,required"`
}

// CredentialVault encrypts and decrypts account secrets at rest with
// AES-256-GCM. The key is derived from the master secret exactly once
// and is read-only afterwards, so concurrent use is safe.
type CredentialVault struct {
	masterKey string
	deriveKey sync.Once
	key       []byte
	deriveErr error
}

func NewCredentialVault(cfg *Config) (*CredentialVault, error) {
	if cfg == nil || cfg.MasterKey == "" {
		return nil, errors.New("vault master key is required")
	}
	return &CredentialVault{masterKey: cfg.MasterKey}, nil
}

func (v *CredentialVault) aead() (cipher.AEAD, error) {
	v.deriveKey.Do(func() {
		v.key, v.deriveErr = scrypt.Key([]byte(v.masterKey), scryptSalt, scryptN, scryptR, scryptP, keyLength)
	})
	if v.deriveErr != nil {
		return nil, errors.Wrap(v.deriveErr, "key derivation failed")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext into a self-describing hex blob laid out as
// nonce followed by ciphertext-with-tag.
func (v *CredentialVault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "nonce generation failed")
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + hex.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed blob or
// authentication failure yields a DecryptionError; partially decrypted
// data is never returned.
func (v *CredentialVault) Decrypt(blob string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(blob)
	if err != nil {
		return "", syncerrors.Decryption(err, "credential blob is not valid hex")
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return "", syncerrors.New(syncerrors.KindDecryption, "credential blob too short")
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", syncerrors.Decryption(err, "credential authentication failed")
	}

	return string(plaintext), nil
}
