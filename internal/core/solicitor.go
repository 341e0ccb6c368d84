package core

// NoOwner is the sentinel an unauthenticated consent submission carries in
// place of a resource owner identifier. Grants are never issued for it.
const NoOwner = "-1"

// Pending captures a validated authorization request waiting for the
// resource owner's decision.
type Pending struct {
	// Client is the registered client the request named.
	Client Client
	// RedirectURI is the validated redirect target.
	RedirectURI string
	// Scope is the requested (and client-permitted) scope.
	Scope Scope
	// State is the client's opaque state parameter, echoed back verbatim.
	State string
}

// Decision is the resource owner's answer to a pending request.
type Decision struct {
	// Allowed is true when the owner approved the grant.
	Allowed bool
	// OwnerID identifies the owner who decided. NoOwner means the
	// submission was not authenticated and must be treated as a denial.
	OwnerID string
}
