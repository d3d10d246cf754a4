package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"github.com/iged-project/iged/internal/fsutil"
)

const (
	// KeyringService is the OS keyring service name.
	KeyringService = "iged"
	// KeyringAccount holds the base64 memory key.
	KeyringAccount = "memory_key"

	SourceFile    = "file"
	SourceKeyring = "keyring"

	pbkdf2Iterations = 100000
	saltSize         = 32
)

// KeyOptions selects where the memory key lives.
type KeyOptions struct {
	Source  string // file (default) | keyring
	KeyFile string
	// Passphrase, when non-empty, derives the key with PBKDF2 instead of
	// storing random key material. The salt is kept at KeyFile+".salt".
	Passphrase string
}

// LoadOrCreateKey returns the 32-byte memory key, generating and persisting
// one on first use.
func LoadOrCreateKey(opts KeyOptions) ([]byte, error) {
	if opts.Passphrase != "" {
		return derivedKey(opts)
	}
	switch strings.ToLower(opts.Source) {
	case "", SourceFile:
		return fileKey(opts.KeyFile)
	case SourceKeyring:
		return keyringKey()
	default:
		return nil, fmt.Errorf("unknown key source %q", opts.Source)
	}
}

func fileKey(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("key file path is empty")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return decodeKey(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := fsutil.WriteFile(path, []byte(encoded), 0o600, nil); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

func keyringKey() ([]byte, error) {
	stored, err := keyring.Get(KeyringService, KeyringAccount)
	if err == nil {
		return decodeKey(stored)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := keyring.Set(KeyringService, KeyringAccount, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("store key in keyring: %w", err)
	}
	return key, nil
}

func derivedKey(opts KeyOptions) ([]byte, error) {
	if opts.KeyFile == "" {
		return nil, errors.New("key file path is empty")
	}
	saltPath := opts.KeyFile + ".salt"
	salt, err := os.ReadFile(saltPath)
	switch {
	case err == nil:
		if salt, err = base64.StdEncoding.DecodeString(strings.TrimSpace(string(salt))); err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
	case os.IsNotExist(err):
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(salt) + "\n"
		if err := fsutil.WriteFile(saltPath, []byte(encoded), 0o600, nil); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	default:
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return pbkdf2.Key([]byte(opts.Passphrase), salt, pbkdf2Iterations, KeySize, sha256.New), nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("stored key has %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// KeyFileTooOpen reports whether the key file grants any group/other access.
func KeyFileTooOpen(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&0o077 != 0, nil
}
