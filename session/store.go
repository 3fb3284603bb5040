// Package session stores time-boxed access grants.
//
// A client keeps one Store keyed by domain and a gate keeps one keyed by
// payer address; the two are never shared. Every read checks expiry, so a
// stale session is never returned even if the background sweep has not run.
// The sweep only bounds memory.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/vitwit/dns402/types"
)

// DefaultSweepInterval is how often a MemoryStore purges expired entries.
const DefaultSweepInterval = 60 * time.Second

// ErrNotFound is returned by Get when no live session exists for a key.
var ErrNotFound = errors.New("session not found")

// Store holds sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the live session for key, or ErrNotFound when it is
	// absent or expired.
	Get(ctx context.Context, key string) (types.Session, error)

	// Put stores s under key, replacing any existing entry.
	Put(ctx context.Context, key string, s types.Session) error

	// PutIfAbsent stores s only when no live session exists for key and
	// reports whether it did.
	PutIfAbsent(ctx context.Context, key string, s types.Session) (bool, error)

	Delete(ctx context.Context, key string) error

	// Sweep removes every entry expired at now and returns how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close stops background work owned by the store.
	Close() error
}

// Clock returns the current time. Stores take one so tests can move time.
type Clock func() time.Time
