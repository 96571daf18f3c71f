package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/goliatone/go-transfer/core"
)

const aesKeySize = 32

// AESKeyGenerator creates AES-256-GCM keys. Keys are exchanged as base64url text.
type AESKeyGenerator struct {
	random io.Reader
}

type GeneratorOption func(*AESKeyGenerator)

// WithRandom replaces crypto/rand as the source of key material and nonces.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *AESKeyGenerator) {
		if r != nil {
			g.random = r
		}
	}
}

func NewAESKeyGenerator(opts ...GeneratorOption) *AESKeyGenerator {
	generator := &AESKeyGenerator{random: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(generator)
		}
	}
	return generator
}

func (g *AESKeyGenerator) Generate() (core.SymmetricKey, error) {
	random := rand.Reader
	if g != nil && g.random != nil {
		random = g.random
	}
	material := make([]byte, aesKeySize)
	if _, err := io.ReadFull(random, material); err != nil {
		return nil, fmt.Errorf("security: key generation failed: %w", err)
	}
	return newAESKey(material, random)
}

func (g *AESKeyGenerator) Parse(encoded string) (core.SymmetricKey, error) {
	material, err := decodeBytes("symmetric key", encoded)
	if err != nil {
		return nil, err
	}
	if len(material) != aesKeySize {
		return nil, fmt.Errorf("security: symmetric key must be %d bytes, got %d", aesKeySize, len(material))
	}
	random := rand.Reader
	if g != nil && g.random != nil {
		random = g.random
	}
	return newAESKey(material, random)
}

type aesKey struct {
	mu        sync.RWMutex
	material  []byte
	keyID     string
	random    io.Reader
	destroyed bool
}

func newAESKey(material []byte, random io.Reader) (*aesKey, error) {
	key := make([]byte, len(material))
	copy(key, material)
	return &aesKey{
		material: key,
		keyID:    fingerprint(key),
		random:   random,
	}, nil
}

// fingerprint lets a decrypt with the wrong key fail before the cipher runs.
func fingerprint(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:8])
}

func (k *aesKey) gcm() (cipher.AEAD, error) {
	if k.destroyed {
		return nil, fmt.Errorf("security: symmetric key has been destroyed")
	}
	block, err := aes.NewCipher(k.material)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func (k *aesKey) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("security: plaintext is required")
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(k.random, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return encodeEnvelope(envelope{
		KeyID:      k.keyID,
		Algorithm:  AlgorithmAESGCM,
		Nonce:      encodeBytes(nonce),
		Ciphertext: encodeBytes(sealed),
	})
}

func (k *aesKey) Decrypt(ciphertext string) ([]byte, error) {
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if parsed.Algorithm != AlgorithmAESGCM {
		return nil, fmt.Errorf("security: unexpected algorithm %q", parsed.Algorithm)
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if parsed.KeyID != "" && parsed.KeyID != k.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, k.keyID)
	}
	nonce, err := decodeBytes("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	payload, err := decodeBytes("ciphertext payload", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (k *aesKey) Encoded() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return ""
	}
	return encodeBytes(k.material)
}

// Destroy zeroes the key material. The key cannot be used afterwards.
func (k *aesKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.material {
		k.material[i] = 0
	}
	k.destroyed = true
}

var (
	_ core.SymmetricKeyGenerator = (*AESKeyGenerator)(nil)
	_ core.SymmetricKey          = (*aesKey)(nil)
)
