package core

import (
	"fmt"
	"sync"
)

// Client describes a registered OAuth2 client.
type Client struct {
	// ID is the public client identifier.
	ID string
	// RedirectURI is the single redirect registered for the client.
	// Authorization requests must match it exactly.
	RedirectURI string
	// Scope is the maximum scope the client may be granted.
	Scope Scope
	// Public marks clients that cannot hold a secret (browser or native
	// apps). All registered clients are currently public.
	Public bool
}

// Registry holds registered clients keyed by identifier.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds or replaces a client. The identifier and redirect URI are
// required.
func (r *Registry) Register(c Client) error {
	if c.ID == "" {
		return fmt.Errorf("register client: %w: missing client id", ErrInvalidRequest)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("register client %s: %w: missing redirect uri", c.ID, ErrInvalidRequest)
	}
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return nil
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(id string) (Client, error) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return Client{}, fmt.Errorf("client %q: %w", id, ErrUnknownClient)
	}
	return c, nil
}

// ValidateRedirect looks up the client and checks the supplied redirect URI
// against its registration. The comparison is an exact string match.
func (r *Registry) ValidateRedirect(id, redirectURI string) (Client, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return Client{}, err
	}
	if redirectURI != c.RedirectURI {
		return Client{}, fmt.Errorf("client %q redirect %q: %w", id, redirectURI, ErrRedirectMismatch)
	}
	return c, nil
}

// Len reports the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
