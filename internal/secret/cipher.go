// Package secret manages the memory log key and the authenticated cipher
// that seals the log at rest.
package secret

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a raw cipher key.
const KeySize = chacha20poly1305.KeySize

// magic prefixes every sealed blob; the trailing byte is the format version.
var magic = []byte("IGED\x01")

// ErrDecrypt means the ciphertext was not produced by this key or was altered.
var ErrDecrypt = errors.New("secret: decryption failed")

// Cipher seals and opens byte slices with XChaCha20-Poly1305.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret: init cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal returns magic || nonce || ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), len(magic)+c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: generate nonce: %w", err)
	}
	out := append([]byte{}, magic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, magic), nil
}

func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrDecrypt
	}
	body := sealed[len(magic):]
	ns := c.aead.NonceSize()
	if len(body) < ns+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := c.aead.Open(nil, body[:ns], body[ns:], magic)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// IsSealed reports whether data carries the sealed-blob header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
