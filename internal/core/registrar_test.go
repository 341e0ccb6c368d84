package core

import (
	"errors"
	"testing"
)

func testClient() Client {
	return Client{
		ID:          "LocalClient",
		RedirectURI: "http://localhost:8000/clientside/endpoint",
		Scope:       ParseScope("default-scope"),
		Public:      true,
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(testClient()); err != nil {
		t.Fatalf("register: %v", err)
	}
	c, err := reg.Lookup("LocalClient")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if c.RedirectURI != "http://localhost:8000/clientside/endpoint" {
		t.Fatalf("unexpected redirect uri %q", c.RedirectURI)
	}
	if got := reg.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestRegistryRejectsIncompleteClients(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(Client{RedirectURI: "http://x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing id: got %v, want ErrInvalidRequest", err)
	}
	if err := reg.Register(Client{ID: "c"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing redirect: got %v, want ErrInvalidRequest", err)
	}
}

func TestRegistryUnknownClient(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if _, err := reg.Lookup("nobody"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("got %v, want ErrUnknownClient", err)
	}
}

func TestValidateRedirectExactMatch(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(testClient()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.ValidateRedirect("LocalClient", "http://localhost:8000/clientside/endpoint"); err != nil {
		t.Fatalf("exact match rejected: %v", err)
	}
	cases := []string{
		"http://localhost:8000/clientside/endpoint/",
		"http://localhost:8000/other",
		"https://localhost:8000/clientside/endpoint",
		"",
	}
	for _, uri := range cases {
		if _, err := reg.ValidateRedirect("LocalClient", uri); !errors.Is(err, ErrRedirectMismatch) {
			t.Fatalf("redirect %q: got %v, want ErrRedirectMismatch", uri, err)
		}
	}
}
