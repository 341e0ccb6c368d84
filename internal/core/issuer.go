package core

import (
	"fmt"
	"sync"
	"time"

	"pkt.systems/grantd/internal/token"
)

// tokenRecord is the unit of token state. The same record is reachable from
// both the access and the refresh index; the two must always agree.
type tokenRecord struct {
	access    string
	refresh   string
	grant     Grant
	issuedAt  time.Time
	keepUntil time.Time
}

// IssuedToken is what the issuer hands back to the flow layer.
type IssuedToken struct {
	// AccessToken is the opaque bearer credential.
	AccessToken string
	// RefreshToken rotates the pair. Never equal to AccessToken.
	RefreshToken string
	// ExpiresIn is the access token lifetime at issuance.
	ExpiresIn time.Duration
	// Grant is the approval backing the pair.
	Grant Grant
}

// TokenStore issues access/refresh token pairs and rotates them. Both
// indices are guarded by one mutex so a rotation is observed atomically:
// no interleaving can see the new pair alongside the old one.
type TokenStore struct {
	mu         sync.Mutex
	access     map[string]*tokenRecord
	refresh    map[string]*tokenRecord
	gen        *token.Generator
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenStore returns a token store with the supplied lifetimes.
// Access tokens expire after accessTTL; the record itself survives until
// refreshTTL after the last issuance or rotation so the refresh token stays
// usable past access expiry.
func NewTokenStore(gen *token.Generator, accessTTL, refreshTTL time.Duration) *TokenStore {
	return &TokenStore{
		access:     make(map[string]*tokenRecord),
		refresh:    make(map[string]*tokenRecord),
		gen:        gen,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Issue mints a fresh access/refresh pair for the grant and registers the
// record in both indices.
func (s *TokenStore) Issue(grant Grant, now time.Time) (IssuedToken, error) {
	access, refresh, err := s.mintPair()
	if err != nil {
		return IssuedToken{}, err
	}
	rec := &tokenRecord{
		access:    access,
		refresh:   refresh,
		grant:     grant,
		issuedAt:  now,
		keepUntil: now.Add(s.refreshTTL),
	}
	s.mu.Lock()
	s.access[access] = rec
	s.refresh[refresh] = rec
	s.mu.Unlock()
	return IssuedToken{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.accessTTL,
		Grant:        grant,
	}, nil
}

// Refresh rotates the pair identified by refreshToken. The old access and
// refresh tokens are invalidated and a new pair is returned; a second
// rotation with the consumed token fails. A non-empty requested scope
// narrows the stored grant; the check and the mutation happen under the
// same lock, so a widening attempt fails without consuming the token and
// a narrowed grant is what every later lookup sees. Entropy failure
// leaves the indices untouched.
func (s *TokenStore) Refresh(refreshToken string, requested Scope, now time.Time) (IssuedToken, error) {
	access, refresh, err := s.mintPair()
	if err != nil {
		return IssuedToken{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[refreshToken]
	if !ok {
		return IssuedToken{}, ErrInvalidRefreshToken
	}
	if rec.refresh != refreshToken {
		return IssuedToken{}, fmt.Errorf("refresh index entry %q points at record keyed %q: %w",
			refreshToken, rec.refresh, ErrIndexCorrupt)
	}
	if now.After(rec.keepUntil) {
		delete(s.refresh, refreshToken)
		delete(s.access, rec.access)
		return IssuedToken{}, fmt.Errorf("refresh token expired: %w", ErrInvalidRefreshToken)
	}
	if !requested.Empty() && !rec.grant.Scope.Allows(requested) {
		return IssuedToken{}, fmt.Errorf("scope %q exceeds grant: %w", requested, ErrInvalidScope)
	}
	delete(s.refresh, refreshToken)
	delete(s.access, rec.access)
	rec.access = access
	rec.refresh = refresh
	rec.issuedAt = now
	rec.keepUntil = now.Add(s.refreshTTL)
	if !requested.Empty() {
		rec.grant.Scope = requested
	}
	s.access[access] = rec
	s.refresh[refresh] = rec
	return IssuedToken{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.accessTTL,
		Grant:        rec.grant,
	}, nil
}

// RecoverAccess resolves an access token to its grant without consuming it.
func (s *TokenStore) RecoverAccess(accessToken string, now time.Time) (Grant, error) {
	s.mu.Lock()
	rec, ok := s.access[accessToken]
	s.mu.Unlock()
	if !ok {
		return Grant{}, ErrInvalidAccessToken
	}
	if now.After(rec.issuedAt.Add(s.accessTTL)) {
		return Grant{}, fmt.Errorf("access token expired: %w", ErrInvalidAccessToken)
	}
	return rec.grant, nil
}

// RecoverRefresh resolves a refresh token to its grant without consuming it.
func (s *TokenStore) RecoverRefresh(refreshToken string, now time.Time) (Grant, error) {
	s.mu.Lock()
	rec, ok := s.refresh[refreshToken]
	s.mu.Unlock()
	if !ok {
		return Grant{}, ErrInvalidRefreshToken
	}
	if now.After(rec.keepUntil) {
		return Grant{}, fmt.Errorf("refresh token expired: %w", ErrInvalidRefreshToken)
	}
	return rec.grant, nil
}

// SweepExpired drops records whose refresh horizon has lapsed, removing
// them from both indices. Records with an expired access token but a live
// refresh token are kept so rotation still works.
func (s *TokenStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for refresh, rec := range s.refresh {
		if now.After(rec.keepUntil) {
			delete(s.refresh, refresh)
			delete(s.access, rec.access)
			removed++
		}
	}
	return removed
}

// Len reports the number of live token records.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refresh)
}

// mintPair mints two distinct tokens. The generator's usage counter makes a
// collision implausible; the loop guards the invariant anyway.
func (s *TokenStore) mintPair() (access, refresh string, err error) {
	access, err = s.gen.Mint()
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	for {
		refresh, err = s.gen.Mint()
		if err != nil {
			return "", "", fmt.Errorf("issue refresh token: %w", err)
		}
		if refresh != access {
			return access, refresh, nil
		}
	}
}
