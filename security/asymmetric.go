package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"

	"github.com/goliatone/go-transfer/core"
)

const DefaultRSAKeyBits = 2048

// RSAKeyGenerator creates RSA key pairs used with OAEP and SHA-256. Public keys are
// exchanged as base64url PKIX DER.
type RSAKeyGenerator struct {
	bits   int
	random io.Reader
}

type RSAOption func(*RSAKeyGenerator)

func WithKeyBits(bits int) RSAOption {
	return func(g *RSAKeyGenerator) {
		if bits > 0 {
			g.bits = bits
		}
	}
}

func WithRSARandom(r io.Reader) RSAOption {
	return func(g *RSAKeyGenerator) {
		if r != nil {
			g.random = r
		}
	}
}

func NewRSAKeyGenerator(opts ...RSAOption) *RSAKeyGenerator {
	generator := &RSAKeyGenerator{bits: DefaultRSAKeyBits, random: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(generator)
		}
	}
	return generator
}

func (g *RSAKeyGenerator) GenerateKeyPair() (core.KeyPair, error) {
	bits := DefaultRSAKeyBits
	random := rand.Reader
	if g != nil {
		if g.bits > 0 {
			bits = g.bits
		}
		if g.random != nil {
			random = g.random
		}
	}
	private, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("security: key pair generation failed: %w", err)
	}
	return &RSAKeyPair{private: private}, nil
}

// ParsePublicKey returns an encrypter for a key produced by EncodedPublicKey.
func (g *RSAKeyGenerator) ParsePublicKey(encoded string) (core.Encrypter, error) {
	der, err := decodeBytes("public key", encoded)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("security: parse public key: %w", err)
	}
	public, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("security: public key is %T, want RSA", parsed)
	}
	random := rand.Reader
	if g != nil && g.random != nil {
		random = g.random
	}
	return &rsaPublicKey{public: public, random: random}, nil
}

// RSAKeyPair holds the worker private key. Only the public half is exported through
// the job record.
type RSAKeyPair struct {
	private *rsa.PrivateKey
}

// ParseKeyPair restores a key pair from EncodedPrivateKey output. Workers use it to
// resume a job whose credentials were sealed for an earlier process.
func ParseKeyPair(encoded string) (*RSAKeyPair, error) {
	der, err := decodeBytes("private key", encoded)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("security: parse private key: %w", err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("security: private key is %T, want RSA", parsed)
	}
	return &RSAKeyPair{private: private}, nil
}

func (p *RSAKeyPair) EncodedPublicKey() (string, error) {
	if p == nil || p.private == nil {
		return "", fmt.Errorf("security: key pair is nil")
	}
	der, err := x509.MarshalPKIXPublicKey(&p.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("security: encode public key: %w", err)
	}
	return encodeBytes(der), nil
}

func (p *RSAKeyPair) EncodedPrivateKey() (string, error) {
	if p == nil || p.private == nil {
		return "", fmt.Errorf("security: key pair is nil")
	}
	der, err := x509.MarshalPKCS8PrivateKey(p.private)
	if err != nil {
		return "", fmt.Errorf("security: encode private key: %w", err)
	}
	return encodeBytes(der), nil
}

func (p *RSAKeyPair) Decrypt(ciphertext string) ([]byte, error) {
	if p == nil || p.private == nil {
		return nil, fmt.Errorf("security: key pair is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if parsed.Algorithm != AlgorithmRSAOAEP256 {
		return nil, fmt.Errorf("security: unexpected algorithm %q", parsed.Algorithm)
	}
	public, err := p.EncodedPublicKey()
	if err != nil {
		return nil, err
	}
	if parsed.KeyID != "" && parsed.KeyID != fingerprint([]byte(public)) {
		return nil, fmt.Errorf("security: ciphertext was sealed for a different key pair")
	}
	payload, err := decodeBytes("ciphertext payload", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, p.private, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

type rsaPublicKey struct {
	public *rsa.PublicKey
	random io.Reader
}

func (k *rsaPublicKey) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("security: plaintext is required")
	}
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return "", fmt.Errorf("security: encode public key: %w", err)
	}
	sealed, err := rsa.EncryptOAEP(sha256.New(), k.random, k.public, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("security: encrypt payload: %w", err)
	}
	return encodeEnvelope(envelope{
		KeyID:      fingerprint([]byte(encodeBytes(der))),
		Algorithm:  AlgorithmRSAOAEP256,
		Ciphertext: encodeBytes(sealed),
	})
}

var (
	_ core.KeyPairGenerator = (*RSAKeyGenerator)(nil)
	_ core.PublicKeyParser  = (*RSAKeyGenerator)(nil)
	_ core.KeyPair          = (*RSAKeyPair)(nil)
)
