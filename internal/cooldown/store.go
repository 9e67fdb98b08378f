// Package cooldown tracks per-target execution cooldowns so a target that
// just settled is not immediately re-executed on stale detector output.
// The memory store suits a single instance; the redis store shares state
// across a fleet.
package cooldown

import (
	"context"
	"time"
)

// Store records and queries target cooldowns.
type Store interface {
	// Active reports whether target is still cooling down.
	Active(ctx context.Context, target string) (bool, error)

	// Set places target on cooldown for ttl.
	Set(ctx context.Context, target string, ttl time.Duration) error
}
