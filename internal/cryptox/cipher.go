// Package cryptox holds the symmetric and one-way primitives used to protect
// credentials: the at-rest token cipher and the password hashers.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/zeebo/blake3"
)

// KeySize is the required at-rest key length (AES-256).
const KeySize = 32

// IVSize is the required initialization vector length (one AES block).
const IVSize = aes.BlockSize

const fingerprintContext = "rentkeeper/refresh-token-fingerprint:"

// TokenCipher encrypts credentials before they are persisted.
//
// Encrypt and Decrypt use AES-256-CBC with the IV fixed at construction, so
// identical plaintexts produce identical ciphertexts. Seal and Open draw a
// fresh IV per call and store it in front of the ciphertext; Fingerprint
// provides the equality index that Seal can no longer offer.
//
// A TokenCipher is immutable and safe for concurrent use.
type TokenCipher struct {
	block          cipher.Block
	iv             []byte
	fingerprintKey []byte
}

// NewTokenCipher validates key and iv sizes and returns a ready cipher.
// A wrong size yields an error wrapping common.ErrorConfiguration.
func NewTokenCipher(key, iv []byte) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: cipher key must be %d bytes, got %d", common.ErrorConfiguration, KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: cipher iv must be %d bytes, got %d", common.ErrorConfiguration, IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorConfiguration, err)
	}

	fk := blake3.Sum256(append([]byte(fingerprintContext), key...))

	return &TokenCipher{
		block:          block,
		iv:             bytes.Clone(iv),
		fingerprintKey: fk[:],
	}, nil
}

// NewTokenCipherFromBase64 decodes std-base64 key and iv and calls NewTokenCipher.
func NewTokenCipherFromBase64(key, iv string) (*TokenCipher, error) {
	k, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher key is not valid base64: %v", common.ErrorConfiguration, err)
	}
	v, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher iv is not valid base64: %v", common.ErrorConfiguration, err)
	}
	return NewTokenCipher(k, v)
}

// Encrypt returns base64(AES-CBC(pkcs7(plaintext))) under the fixed IV.
// The empty string passes through unchanged.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(c.encryptBlocks(c.iv, []byte(plaintext))), nil
}

// Decrypt reverses Encrypt. The empty string passes through unchanged.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidCiphertext, err)
	}
	plain, err := c.decryptBlocks(c.iv, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Seal encrypts plaintext under a random IV and returns base64(iv || ciphertext).
// The empty string passes through unchanged.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	out := append(iv, c.encryptBlocks(iv, []byte(plaintext))...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (c *TokenCipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidCiphertext, err)
	}
	if len(raw) < IVSize {
		return "", fmt.Errorf("%w: sealed value too short", common.ErrInvalidCiphertext)
	}
	plain, err := c.decryptBlocks(raw[:IVSize], raw[IVSize:])
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Fingerprint returns a hex keyed BLAKE3 digest of value. It is stable for
// the lifetime of the key and cannot be reversed into the value.
func (c *TokenCipher) Fingerprint(value string) string {
	h, err := blake3.NewKeyed(c.fingerprintKey)
	if err != nil {
		// fingerprintKey is always 32 bytes
		panic("cryptox: blake3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (c *TokenCipher) encryptBlocks(iv, plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return out
}

func (c *TokenCipher) decryptBlocks(iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of the block size", common.ErrInvalidCiphertext, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrInvalidCiphertext)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrInvalidCiphertext)
		}
	}
	return b[:len(b)-n], nil
}
