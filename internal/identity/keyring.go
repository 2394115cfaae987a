// Package identity keeps VNC passwords in the platform keyring, one entry
// per target.
package identity

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/go-the-way/novnc4svc/internal/logging"
)

const (
	keyringServiceName = "novnc4svc"
	passwordKeyPrefix  = "vnc-password:"
)

// ErrEmptyTarget is returned for operations without a target name.
var ErrEmptyTarget = errors.New("target name is required")

// PasswordStore reads and writes VNC passwords keyed by target name.
type PasswordStore struct {
	ring    keyring.Keyring
	backend string
}

// OpenPasswordStore opens the platform keyring.
// On macOS: Keychain. On Linux: Secret Service (GNOME Keyring / KDE Wallet).
func OpenPasswordStore() (*PasswordStore, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewPasswordStore(ring, keyringBackendName()), nil
}

// NewPasswordStore wraps an already opened keyring.
func NewPasswordStore(ring keyring.Keyring, backend string) *PasswordStore {
	return &PasswordStore{ring: ring, backend: backend}
}

// Backend returns a human-readable name of the keyring in use.
func (s *PasswordStore) Backend() string { return s.backend }

func itemKey(target string) string { return passwordKeyPrefix + target }

// Store saves the password for target, replacing any previous one.
func (s *PasswordStore) Store(target, password string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	err := s.ring.Set(keyring.Item{
		Key:         itemKey(target),
		Data:        []byte(password),
		Label:       "novnc4svc VNC password (" + target + ")",
		Description: "VNC authentication password for " + target,
	})
	if err != nil {
		return fmt.Errorf("failed to store in %s: %w", s.backend, err)
	}

	logging.Audit(logging.AuditEvent{
		Operation: "password_stored",
		Actor:     "cli",
		Target:    target,
		Result:    "success",
		Details:   s.backend,
	})
	return nil
}

// Retrieve returns the password for target.
// Returns ("", nil) if the keyring is available but no password is stored.
func (s *PasswordStore) Retrieve(target string) (string, error) {
	if target == "" {
		return "", ErrEmptyTarget
	}
	item, err := s.ring.Get(itemKey(target))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// Delete removes the password for target. Deleting a missing entry is not
// an error.
func (s *PasswordStore) Delete(target string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	err := s.ring.Remove(itemKey(target))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{
		Operation: "password_deleted",
		Actor:     "cli",
		Target:    target,
		Result:    "success",
		Details:   s.backend,
	})
	return nil
}

// Targets lists the targets with a stored password, sorted.
func (s *PasswordStore) Targets() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, k := range keys {
		if t, ok := strings.CutPrefix(k, passwordKeyPrefix); ok {
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// platformKeyringBackends returns the keyring backends for the current platform.
func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	default:
		return nil
	}
}

// keyringBackendName returns a human-readable name for the platform keyring.
func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "system keyring"
	}
}
