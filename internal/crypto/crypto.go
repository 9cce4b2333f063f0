package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/org/checkoutgate/internal/errclass"
	"golang.org/x/crypto/hkdf"
)

const (
	keyPrefix = "base64:"
	// minKeyLen is the shortest configured secret accepted for key derivation.
	minKeyLen = 16
	// sessionKeyContext binds derived keys to the session store.
	sessionKeyContext = "checkoutgate-session-store-v1"

	// AES-GCM standard nonce and tag sizes.
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// GenerateKey returns a random 32-byte secret encoded in the configured
// "base64:<key>" form.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return keyPrefix + base64.StdEncoding.EncodeToString(key), nil
}

// ParseKey decodes a "base64:<key>" secret. Both standard and URL-safe
// alphabets are accepted so that existing Fernet-style keys keep working.
func ParseKey(configured string) ([]byte, error) {
	if !strings.HasPrefix(configured, keyPrefix) {
		return nil, errclass.ErrConfiguration.WithMessage("cookie_enc_key must be set like 'base64:<key>'")
	}
	enc := strings.TrimSpace(strings.TrimPrefix(configured, keyPrefix))
	var raw []byte
	var err error
	for _, e := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err = e.DecodeString(enc); err == nil {
			break
		}
	}
	if err != nil {
		return nil, errclass.ErrConfiguration.WithMessage("cookie_enc_key is not valid base64")
	}
	if len(raw) < minKeyLen {
		return nil, errclass.ErrConfiguration.WithMessagef("cookie_enc_key must decode to at least %d bytes", minKeyLen)
	}
	return raw, nil
}

// DeriveKey derives a 32-byte AES key from a secret using HKDF-SHA256.
func DeriveKey(secret []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM. Returns ciphertext and nonce separately.
func EncryptAESGCM(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptAESGCM decrypts AES-256-GCM ciphertext.
func DecryptAESGCM(ciphertext, nonce, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Cipher encrypts opaque payloads with a single process-wide key.
type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from the configured "base64:<key>" secret.
// A missing or malformed secret is a configuration error.
func NewCipher(configured string) (*Cipher, error) {
	secret, err := ParseKey(configured)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(secret, sessionKeyContext)
	if err != nil {
		return nil, errclass.ErrConfiguration.WithMessage(err.Error())
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext. The nonce is prepended to the ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := EncryptAESGCM(plaintext, c.key)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// Decrypt opens a payload produced by Encrypt. Tampered, truncated or
// wrong-key input fails with errclass.ErrDecryption.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < gcmNonceSize+gcmTagSize {
		return nil, errclass.ErrDecryption.WithMessage("ciphertext too short")
	}
	plaintext, err := DecryptAESGCM(blob[gcmNonceSize:], blob[:gcmNonceSize], c.key)
	if err != nil {
		return nil, errclass.ErrDecryption.WithMessage(err.Error())
	}
	return plaintext, nil
}
