package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/grantd/internal/token"
)

func testGrant() Grant {
	return Grant{
		OwnerID:     "42",
		ClientID:    "LocalClient",
		RedirectURI: "http://localhost:8000/clientside/endpoint",
		Scope:       ParseScope("default-scope"),
	}
}

func TestCodeSingleUse(t *testing.T) {
	t.Parallel()
	store := NewCodeStore(&token.Generator{}, 10*time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code, err := store.Issue(testGrant(), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	grant, err := store.Redeem(code, now)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if grant.OwnerID != "42" {
		t.Fatalf("owner = %q, want %q", grant.OwnerID, "42")
	}
	if _, err := store.Redeem(code, now); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("second redeem: got %v, want ErrInvalidCode", err)
	}
}

func TestCodeConcurrentRedeemOneWinner(t *testing.T) {
	t.Parallel()
	store := NewCodeStore(&token.Generator{}, 10*time.Minute)
	now := time.Now().UTC()
	code, err := store.Issue(testGrant(), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Redeem(code, now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("winners = %d, want exactly 1", got)
	}
}

func TestCodeExpiry(t *testing.T) {
	t.Parallel()
	store := NewCodeStore(&token.Generator{}, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code, err := store.Issue(testGrant(), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := store.Redeem(code, now.Add(2*time.Minute)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expired redeem: got %v, want ErrInvalidCode", err)
	}
	// Expiry consumed the code too.
	if _, err := store.Redeem(code, now); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("redeem after expiry consumed it: got %v, want ErrInvalidCode", err)
	}
}

func TestCodeSweepExpired(t *testing.T) {
	t.Parallel()
	store := NewCodeStore(&token.Generator{}, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.Issue(testGrant(), now); err != nil {
		t.Fatalf("issue: %v", err)
	}
	fresh, err := store.Issue(testGrant(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if removed := store.SweepExpired(now.Add(90 * time.Second)); removed != 1 {
		t.Fatalf("swept %d codes, want 1", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
	if _, err := store.Redeem(fresh, now.Add(90 * time.Second)); err != nil {
		t.Fatalf("fresh code swept: %v", err)
	}
}
