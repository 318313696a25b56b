package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/domain"
)

func arrayStore() *KeyringStore {
	rings := map[Scope]keyring.Keyring{
		ScopeOrdinary:       keyring.NewArrayKeyring(nil),
		ScopeAdministrative: keyring.NewArrayKeyring(nil),
	}
	return NewKeyringStoreWith(func(scope Scope) (keyring.Keyring, error) {
		return rings[scope], nil
	})
}

func TestKeyringStoreScopesAreIndependent(t *testing.T) {
	s := arrayStore()

	_, err := s.Get(ScopeAdministrative)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)

	require.NoError(t, s.Set(ScopeOrdinary, "student"))
	require.NoError(t, s.Set(ScopeAdministrative, "instructor"))

	v, err := s.Get(ScopeOrdinary)
	require.NoError(t, err)
	assert.Equal(t, "student", v)

	v, err = s.Get(ScopeAdministrative)
	require.NoError(t, err)
	assert.Equal(t, "instructor", v)

	require.NoError(t, s.Set(ScopeAdministrative, "rotated"))
	v, err = s.Get(ScopeAdministrative)
	require.NoError(t, err)
	assert.Equal(t, "rotated", v)
}

func TestKeyringStoreOpenFailure(t *testing.T) {
	boom := errors.New("no backend")
	s := NewKeyringStoreWith(func(Scope) (keyring.Keyring, error) { return nil, boom })

	_, err := s.Get(ScopeOrdinary)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Set(ScopeOrdinary, "x"), boom)
}

func TestScopeServiceNames(t *testing.T) {
	assert.NotEqual(t, ScopeOrdinary.ServiceName(), ScopeAdministrative.ServiceName())
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		stored    *string
		secret    string
		wantAdmin bool
	}{
		{"no secret stored", nil, "course-key", false},
		{"matching secret", ptr("course-key"), "course-key", true},
		{"wrong secret", ptr("guess"), "course-key", false},
		{"empty configured secret", ptr(""), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if tt.stored != nil {
				require.NoError(t, store.Set(ScopeAdministrative, *tt.stored))
			}

			isAdmin, err := NewGate(store, tt.secret).IsAdministrator()
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdmin, isAdmin)
		})
	}
}

func TestGateOrdinaryScopeDoesNotGrantAdmin(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(ScopeOrdinary, "course-key"))

	isAdmin, err := NewGate(store, "course-key").IsAdministrator()
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestGateDecisionIsCached(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(ScopeAdministrative, "course-key"))
	g := NewGate(store, "course-key")

	actor, err := g.Actor()
	require.NoError(t, err)
	assert.Equal(t, domain.ActorAdministrator, actor)

	require.NoError(t, store.Set(ScopeAdministrative, "changed"))
	actor, err = g.Actor()
	require.NoError(t, err)
	assert.Equal(t, domain.ActorAdministrator, actor, "role is fixed for the session")
}

type failingStore struct{}

func (failingStore) Get(Scope) (string, error) { return "", errors.New("locked") }
func (failingStore) Set(Scope, string) error   { return errors.New("locked") }

func TestGateStoreFailure(t *testing.T) {
	isAdmin, err := NewGate(failingStore{}, "course-key").IsAdministrator()
	assert.Error(t, err)
	assert.False(t, isAdmin)
}

func ptr(s string) *string { return &s }
