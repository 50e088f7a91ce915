// Package limiter throttles login attempts per (username, client host).
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the lockout rule: MaxFails failures within Window block for BlockFor.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five failures per quarter hour.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

func (p Policy) withDefaults() Policy {
	if p.Window <= 0 {
		p.Window = DefaultPolicy.Window
	}
	if p.MaxFails <= 0 {
		p.MaxFails = DefaultPolicy.MaxFails
	}
	if p.BlockFor <= 0 {
		p.BlockFor = DefaultPolicy.BlockFor
	}
	return p
}

// HashIP returns a stable hash of the host part of a remote address, so raw
// addresses are never stored and source ports do not split the counter.
func HashIP(remote string) []byte {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	sum := sha256.Sum256([]byte(host))
	return sum[:]
}
