package credential

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/logger"
)

// Gate resolves the actor of a session from the administrative secret slot.
// The decision is taken once and cached; later changes to the store do not
// affect a running session.
type Gate struct {
	store       SecretStore
	adminSecret string

	once  sync.Once
	actor domain.Actor
	err   error
}

// NewGate creates a gate that grants the administrator role when the
// administrative scope holds exactly adminSecret.
func NewGate(store SecretStore, adminSecret string) *Gate {
	return &Gate{store: store, adminSecret: adminSecret}
}

// IsAdministrator reports whether the session runs as administrator.
// A missing secret means ordinary; a store failure is returned.
func (g *Gate) IsAdministrator() (bool, error) {
	actor, err := g.Actor()
	return actor.IsAdministrator(), err
}

// Actor returns the cached role of the session
func (g *Gate) Actor() (domain.Actor, error) {
	g.once.Do(func() {
		g.actor, g.err = g.resolve()
	})
	return g.actor, g.err
}

func (g *Gate) resolve() (domain.Actor, error) {
	if g.adminSecret == "" {
		return domain.ActorOrdinary, nil
	}

	value, err := g.store.Get(ScopeAdministrative)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return domain.ActorOrdinary, nil
	}
	if err != nil {
		logger.Get().Warn("Credential store unavailable, continuing as ordinary", "error", err)
		return domain.ActorOrdinary, err
	}

	if subtle.ConstantTimeCompare([]byte(value), []byte(g.adminSecret)) == 1 {
		return domain.ActorAdministrator, nil
	}
	return domain.ActorOrdinary, nil
}
