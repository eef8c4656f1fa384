// Package secrets stores the database password and interpreter API keys in
// the OS keyring.
package secrets

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies the keyring namespace.
const ServiceName = "querywatch"

// Keys stored in the keyring.
const (
	KeyDBPassword = "db_password"
	KeyGroq       = "groq_api_key"
	KeyOpenAI     = "openai_api_key"
	KeyGemini     = "gemini_api_key"
)

// Known lists every key accepted by Set and Delete.
var Known = []string{KeyDBPassword, KeyGroq, KeyOpenAI, KeyGemini}

// Store is a thread-safe view of one keyring.
type Store struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// Open opens the platform keyring.
func Open() (*Store, error) {
	cfg := keyring.Config{
		ServiceName:     ServiceName,
		AllowedBackends: allowedBackends(),
		PassPrefix:      ServiceName,
		WinCredPrefix:   ServiceName,
		KeychainName:    "login",
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an existing keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func allowedBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	default:
		return []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.KeyCtlBackend, keyring.PassBackend}
	}
}

// Get returns the secret for key, or "" when it is not stored.
func (s *Store) Get(key string) (string, error) {
	if s == nil {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       ServiceName + " " + key,
		Description: "querywatch credential",
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// KeyForProvider maps an interpreter provider to its keyring entry.
func KeyForProvider(provider string) string {
	switch strings.ToLower(provider) {
	case "", "groq":
		return KeyGroq
	case "openai":
		return KeyOpenAI
	case "gemini":
		return KeyGemini
	}
	return ""
}

func checkKey(key string) error {
	for _, k := range Known {
		if k == key {
			return nil
		}
	}
	return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(Known, ", "))
}
