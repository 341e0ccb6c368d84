// Package token mints opaque bearer credentials. Every minted value is
// derived from fresh CSPRNG output hashed together with a monotonically
// increasing usage counter; the counter disambiguates mints within the same
// process but is never a substitute for entropy.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const seedBytes = 32

// Generator mints unguessable, URL-safe token strings.
// The zero value is ready for use and safe for concurrent callers.
type Generator struct {
	usage atomic.Uint64
}

// Mint returns a fresh opaque token. It fails only when the platform CSPRNG
// fails, in which case no token material is produced.
func (g *Generator) Mint() (string, error) {
	var seed [seedBytes + 8]byte
	if _, err := rand.Read(seed[:seedBytes]); err != nil {
		return "", fmt.Errorf("token: read entropy: %w", err)
	}
	binary.BigEndian.PutUint64(seed[seedBytes:], g.usage.Add(1))
	sum := sha256.Sum256(seed[:])
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Usage reports how many tokens have been minted by this generator.
func (g *Generator) Usage() uint64 {
	return g.usage.Load()
}
