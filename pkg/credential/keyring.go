package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

// Well-known secret keys.
const (
	KeyGmailRefreshToken = "gmail-refresh-token"
	KeyGmailClientSecret = "gmail-client-secret"
	KeyDraftingAPIKey    = "drafting-api-key"
	KeyIMAPPassword      = "imap-password"
	KeySMTPPassword      = "smtp-password"
	KeyJWTSecret         = "jwt-secret"
)

// Store reads and writes secrets in the OS keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the keyring for service, falling back to an encrypted file
// under the user's config directory on hosts without a native backend.
func Open(service string) (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, service, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// Get returns the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Fill sets *dst from the keyring when it is still empty. A missing key is
// not an error.
func (s *Store) Fill(key string, dst *string) error {
	if s == nil || *dst != "" {
		return nil
	}
	v, err := s.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
