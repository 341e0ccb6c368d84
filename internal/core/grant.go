// Package core implements the authorization-server domain: client
// registration, authorization codes, token issuance and rotation, consent,
// and the grant flow that ties them together. All state is held in memory
// behind per-index mutexes.
package core

import (
	"sort"
	"strings"
)

// Scope is a normalized set of scope identifiers: sorted, deduplicated,
// no empty elements. The zero value is the empty scope.
type Scope []string

// ParseScope splits a space-delimited scope string into a normalized Scope.
func ParseScope(raw string) Scope {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make(Scope, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the scope contains no identifiers.
func (s Scope) Empty() bool {
	return len(s) == 0
}

// Allows reports whether every identifier in other is contained in s.
// The empty scope allows only the empty scope.
func (s Scope) Allows(other Scope) bool {
	have := make(map[string]struct{}, len(s))
	for _, id := range s {
		have[id] = struct{}{}
	}
	for _, id := range other {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// Contains reports whether s includes the single identifier id.
func (s Scope) Contains(id string) bool {
	for _, have := range s {
		if have == id {
			return true
		}
	}
	return false
}

// String renders the scope in its space-delimited wire form.
func (s Scope) String() string {
	return strings.Join(s, " ")
}

// Grant records an approved authorization: which resource owner granted
// which client access to which scope, bound to the redirect URI the
// approval was issued against.
type Grant struct {
	// OwnerID identifies the resource owner who approved the grant.
	OwnerID string
	// ClientID identifies the client the grant was issued to.
	ClientID string
	// RedirectURI is the redirect the authorization response was sent to.
	// Code redemption must present the same value.
	RedirectURI string
	// Scope is the approved scope set.
	Scope Scope
}
