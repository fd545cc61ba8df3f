// Timestamped hit records with sliding window counting, for rate limits.
package countstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Key identifies one hit series.
type Key struct {
	GuildID  string
	LimitID  string
	TargetID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.GuildID, k.LimitID, k.TargetID)
}

type HitStore interface {
	// Record appends a hit at the given time, drops hits older than the window, and returns the
	// number of hits in [at-window, at] including the new one.
	Record(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error)
	// Count returns hits in [at-window, at] without recording one.
	Count(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error)
	// Clear drops the whole series.
	Clear(ctx context.Context, key Key) error
}

// KeyLocker serializes work per key. Callers hold the lock across read-modify-evaluate so that
// concurrent hits on one series are never under-counted; distinct keys never contend. An entry
// lives only while someone holds or waits on it.
type KeyLocker struct {
	locks *xsync.Map[string, *keyLock]
}

type keyLock struct {
	mu sync.Mutex
	// holders plus waiters; only changed inside Compute
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{
		locks: xsync.NewMap[string, *keyLock](),
	}
}

// Lock acquires the key's mutex and returns the unlock function.
func (l *KeyLocker) Lock(key Key) func() {
	k := key.String()
	kl, _ := l.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
		if !loaded {
			old = &keyLock{}
		}
		old.refs++
		return old, xsync.UpdateOp
	})
	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
			old.refs--
			if old.refs == 0 {
				return old, xsync.DeleteOp
			}
			return old, xsync.UpdateOp
		})
	}
}

// Len is the number of keys currently held or waited on.
func (l *KeyLocker) Len() int {
	return l.locks.Size()
}
