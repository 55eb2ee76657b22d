package client

import (
	"context"
	"errors"
	"sync"

	"github.com/b4its/next-kepin/internal/models"
)

// IdentityState distinguishes "not yet known" from "known to be logged out".
type IdentityState int

const (
	IdentityLoading IdentityState = iota
	IdentityAuthenticated
	IdentityUnauthenticated
)

func (s IdentityState) String() string {
	switch s {
	case IdentityAuthenticated:
		return "authenticated"
	case IdentityUnauthenticated:
		return "unauthenticated"
	}
	return "loading"
}

type Identity struct {
	State IdentityState
	User  *models.User
}

// IdentityProvider resolves the current user once and caches the answer.
// Network failures are not cached.
type IdentityProvider struct {
	me func(ctx context.Context) (*models.User, error)

	mu       sync.Mutex
	identity Identity
}

func NewIdentityProvider(c *Client) *IdentityProvider {
	return &IdentityProvider{me: c.Me}
}

// Current returns the cached identity without blocking.
func (p *IdentityProvider) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// Resolve returns the identity, asking the backend on first use.
func (p *IdentityProvider) Resolve(ctx context.Context) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity.State != IdentityLoading {
		return p.identity, nil
	}

	user, err := p.me(ctx)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		p.identity = Identity{State: IdentityUnauthenticated}
	case err != nil:
		return p.identity, err
	default:
		p.identity = Identity{State: IdentityAuthenticated, User: user}
	}
	return p.identity, nil
}

// Require returns the authenticated user or ErrUnauthenticated.
func (p *IdentityProvider) Require(ctx context.Context) (*models.User, error) {
	id, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if id.State != IdentityAuthenticated {
		return nil, ErrUnauthenticated
	}
	return id.User, nil
}

// Reset forgets the cached identity, e.g. after login or logout.
func (p *IdentityProvider) Reset() {
	p.mu.Lock()
	p.identity = Identity{}
	p.mu.Unlock()
}
