package session

import "net/http"

// Static resolves every request to a fixed owner. Test harness use only.
type Static struct {
	// OwnerID is returned for every request. Empty resolves to no owner.
	OwnerID string
}

// Resolve implements Resolver.
func (s Static) Resolve(*http.Request) (string, bool) {
	if s.OwnerID == "" {
		return "", false
	}
	return s.OwnerID, true
}

// Deny is a resolver that never identifies an owner.
type Deny struct{}

// Resolve implements Resolver.
func (Deny) Resolve(*http.Request) (string, bool) {
	return "", false
}
