// Package credential decides whether the person running a session is the
// course administrator.
package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"

	"github.com/Ning0612/submitguard/internal/domain"
)

// Scope selects one of the two independent secret slots
type Scope int

const (
	ScopeOrdinary Scope = iota
	ScopeAdministrative
)

// ServiceName is the keyring service a scope is stored under
func (s Scope) ServiceName() string {
	if s == ScopeAdministrative {
		return "submitguard-admin"
	}
	return "submitguard"
}

func (s Scope) String() string {
	if s == ScopeAdministrative {
		return "administrative"
	}
	return "ordinary"
}

// itemKey is the single entry kept per scope
const itemKey = "secret"

// SecretStore reads and writes one secret per scope
type SecretStore interface {
	Get(scope Scope) (string, error)
	Set(scope Scope, value string) error
}

// Opener opens the keyring backing a scope
type Opener func(scope Scope) (keyring.Keyring, error)

// KeyringStore keeps secrets in the OS credential store
type KeyringStore struct {
	open Opener

	mu    sync.Mutex
	rings map[Scope]keyring.Keyring
}

// NewKeyringStore uses the platform keyring; backends may restrict the allowed
// keyring backends (empty means every available one).
func NewKeyringStore(backends ...keyring.BackendType) *KeyringStore {
	return NewKeyringStoreWith(func(scope Scope) (keyring.Keyring, error) {
		return keyring.Open(keyring.Config{
			ServiceName:     scope.ServiceName(),
			AllowedBackends: backends,
		})
	})
}

// NewKeyringStoreWith uses open to obtain keyrings, e.g. keyring.NewArrayKeyring in tests
func NewKeyringStoreWith(open Opener) *KeyringStore {
	return &KeyringStore{open: open, rings: make(map[Scope]keyring.Keyring)}
}

func (s *KeyringStore) ring(scope Scope) (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rings[scope]; ok {
		return r, nil
	}
	r, err := s.open(scope)
	if err != nil {
		return nil, fmt.Errorf("open %s keyring: %w", scope, err)
	}
	s.rings[scope] = r
	return r, nil
}

// Get returns the secret of scope or domain.ErrSecretNotFound
func (s *KeyringStore) Get(scope Scope) (string, error) {
	r, err := s.ring(scope)
	if err != nil {
		return "", err
	}
	item, err := r.Get(itemKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%s: %w", scope, domain.ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s secret: %w", scope, err)
	}
	return string(item.Data), nil
}

// Set stores value for scope, replacing any previous value
func (s *KeyringStore) Set(scope Scope, value string) error {
	r, err := s.ring(scope)
	if err != nil {
		return err
	}
	err = r.Set(keyring.Item{
		Key:         itemKey,
		Data:        []byte(value),
		Label:       scope.ServiceName(),
		Description: "submitguard " + scope.String() + " secret",
	})
	if err != nil {
		return fmt.Errorf("write %s secret: %w", scope, err)
	}
	return nil
}

// MemoryStore is an in-process SecretStore
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[Scope]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[Scope]string)}
}

func (m *MemoryStore) Get(scope Scope) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[scope]
	if !ok {
		return "", fmt.Errorf("%s: %w", scope, domain.ErrSecretNotFound)
	}
	return v, nil
}

func (m *MemoryStore) Set(scope Scope, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[scope] = value
	return nil
}
