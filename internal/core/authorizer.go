package core

import (
	"fmt"
	"sync"
	"time"

	"pkt.systems/grantd/internal/token"
)

type pendingCode struct {
	grant   Grant
	expires time.Time
}

// CodeStore issues single-use authorization codes bound to approved grants.
// Redemption is atomic: concurrent redeemers of the same code see exactly
// one winner.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]pendingCode
	gen   *token.Generator
	ttl   time.Duration
}

// NewCodeStore returns a code store whose codes expire after ttl.
func NewCodeStore(gen *token.Generator, ttl time.Duration) *CodeStore {
	return &CodeStore{
		codes: make(map[string]pendingCode),
		gen:   gen,
		ttl:   ttl,
	}
}

// Issue mints a fresh authorization code for the supplied grant.
func (s *CodeStore) Issue(grant Grant, now time.Time) (string, error) {
	code, err := s.gen.Mint()
	if err != nil {
		return "", fmt.Errorf("issue code: %w", err)
	}
	s.mu.Lock()
	s.codes[code] = pendingCode{grant: grant, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return code, nil
}

// Redeem consumes the code and returns its grant. The code is removed
// before any validation result is reported, so a second redemption always
// fails regardless of why the first one succeeded or failed.
func (s *CodeStore) Redeem(code string, now time.Time) (Grant, error) {
	s.mu.Lock()
	pending, ok := s.codes[code]
	if ok {
		delete(s.codes, code)
	}
	s.mu.Unlock()
	if !ok {
		return Grant{}, ErrInvalidCode
	}
	if now.After(pending.expires) {
		return Grant{}, fmt.Errorf("code expired: %w", ErrInvalidCode)
	}
	return pending.grant, nil
}

// SweepExpired removes codes whose lifetime has lapsed and reports how many
// were dropped.
func (s *CodeStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, pending := range s.codes {
		if now.After(pending.expires) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed
}

// Len reports the number of outstanding codes.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
