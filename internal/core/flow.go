package core

import (
	"fmt"

	"pkt.systems/grantd/internal/clock"
	"pkt.systems/grantd/internal/svcfields"
	"pkt.systems/pslog"
)

// Service orchestrates the authorization-code grant: it validates
// authorization requests, turns consent decisions into codes, exchanges
// codes for token pairs, rotates pairs, and guards protected resources.
type Service struct {
	registry *Registry
	codes    *CodeStore
	tokens   *TokenStore
	clk      clock.Clock
	logger   pslog.Logger
}

// NewService wires the flow orchestrator. A nil logger is replaced with a
// no-op logger; a nil clock with the real one.
func NewService(registry *Registry, codes *CodeStore, tokens *TokenStore, clk clock.Clock, logger pslog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Service{
		registry: registry,
		codes:    codes,
		tokens:   tokens,
		clk:      clk,
		logger:   svcfields.WithSubsystem(logger, "core.flow"),
	}
}

// ValidateAuthorize checks an incoming authorization request against the
// client registry and returns the pending request awaiting consent. An
// empty requested scope defaults to the client's full registered scope.
func (s *Service) ValidateAuthorize(clientID, redirectURI, scope, state string) (Pending, error) {
	client, err := s.registry.ValidateRedirect(clientID, redirectURI)
	if err != nil {
		return Pending{}, err
	}
	requested := ParseScope(scope)
	if requested.Empty() {
		requested = client.Scope
	} else if !client.Scope.Allows(requested) {
		return Pending{}, fmt.Errorf("client %q cannot grant %q: %w", clientID, requested, ErrInvalidScope)
	}
	return Pending{
		Client:      client,
		RedirectURI: redirectURI,
		Scope:       requested,
		State:       state,
	}, nil
}

// FinishAuthorize applies the resource owner's decision to a pending
// request. A denial, or a submission without an identified owner, yields
// ErrConsentDenied and no code is minted.
func (s *Service) FinishAuthorize(p Pending, d Decision) (string, error) {
	if !d.Allowed {
		s.logger.Debug("consent denied", "client_id", p.Client.ID)
		return "", ErrConsentDenied
	}
	if d.OwnerID == "" || d.OwnerID == NoOwner {
		s.logger.Warn("consent without authenticated owner", "client_id", p.Client.ID)
		return "", fmt.Errorf("no authenticated owner: %w", ErrConsentDenied)
	}
	grant := Grant{
		OwnerID:     d.OwnerID,
		ClientID:    p.Client.ID,
		RedirectURI: p.RedirectURI,
		Scope:       p.Scope,
	}
	code, err := s.codes.Issue(grant, s.clk.Now())
	if err != nil {
		return "", err
	}
	s.logger.Debug("authorization code issued",
		"client_id", p.Client.ID, "owner_id", d.OwnerID, "scope", p.Scope.String())
	return code, nil
}

// ExchangeCode redeems a code for a token pair. The submitted client and
// redirect must match the ones the code was issued against; any mismatch
// is reported as an invalid code so callers cannot probe which parameter
// was wrong. The code is consumed even when the exchange fails.
func (s *Service) ExchangeCode(clientID, redirectURI, code string) (IssuedToken, error) {
	now := s.clk.Now()
	grant, err := s.codes.Redeem(code, now)
	if err != nil {
		return IssuedToken{}, err
	}
	if grant.ClientID != clientID {
		s.logger.Warn("code exchange client mismatch", "client_id", clientID)
		return IssuedToken{}, fmt.Errorf("client mismatch: %w", ErrInvalidCode)
	}
	if grant.RedirectURI != redirectURI {
		s.logger.Warn("code exchange redirect mismatch", "client_id", clientID)
		return IssuedToken{}, fmt.Errorf("redirect mismatch: %w", ErrInvalidCode)
	}
	issued, err := s.tokens.Issue(grant, now)
	if err != nil {
		return IssuedToken{}, err
	}
	s.logger.Debug("token pair issued",
		"client_id", clientID, "owner_id", grant.OwnerID, "scope", grant.Scope.String())
	return issued, nil
}

// Refresh rotates the pair behind refreshToken. A non-empty scope narrows
// the grant itself to a subset of what was approved, so the dropped
// identifiers are gone for the token's remaining lifetime; widening is
// rejected with ErrInvalidScope without consuming the token.
func (s *Service) Refresh(refreshToken, scope string) (IssuedToken, error) {
	issued, err := s.tokens.Refresh(refreshToken, ParseScope(scope), s.clk.Now())
	if err != nil {
		return IssuedToken{}, err
	}
	s.logger.Debug("token pair rotated",
		"client_id", issued.Grant.ClientID, "owner_id", issued.Grant.OwnerID)
	return issued, nil
}

// Protect resolves a bearer token and verifies its grant covers the
// required scope.
func (s *Service) Protect(accessToken string, required Scope) (Grant, error) {
	grant, err := s.tokens.RecoverAccess(accessToken, s.clk.Now())
	if err != nil {
		return Grant{}, err
	}
	if !grant.Scope.Allows(required) {
		return Grant{}, fmt.Errorf("grant scope %q does not cover %q: %w",
			grant.Scope, required, ErrInsufficientScope)
	}
	return grant, nil
}

// Registry exposes the client registry for registration at startup.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Sweep removes expired codes and token records and reports the counts.
func (s *Service) Sweep() (codes, tokens int) {
	now := s.clk.Now()
	codes = s.codes.SweepExpired(now)
	tokens = s.tokens.SweepExpired(now)
	if codes > 0 || tokens > 0 {
		s.logger.Trace("swept expired entries", "codes", codes, "tokens", tokens)
	}
	return codes, tokens
}
