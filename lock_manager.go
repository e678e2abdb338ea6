package modular

import (
	"context"
	"sync"
)

// LockToken identifies the logical caller holding a bundle lock, standing
// in for the "owner thread" spec.md §4.3 tracks per bundle. A lifecycle
// operation mints one token at its entry point (LockManager.NewToken) and threads
// it through every nested call so reentrant acquisition on the same
// bundle — e.g. update calling stop then restarting the bundle — doesn't
// deadlock against itself.
type LockToken uint64

// lockState is the reentrant-mutex record spec.md §4.3 describes as
// "(owner_thread, count)" kept on the bundle's info; LockManager keeps it
// out of BundleInfo so BundleInfo's own mutex only ever guards bundle
// state, never lock bookkeeping.
type lockState struct {
	owner LockToken
	count int
}

// LockManager implements spec.md §4.3's two lock kinds — the install lock
// keyed by location, and the per-bundle reentrant lock — plus atomic
// multi-bundle acquisition for refresh and bulk resolve. A single coarse
// sync.Cond, guarding both lock maps, is sufficient because lock holds are
// short relative to normal operation (§4.3 Rationale); every wait re-tests
// every candidate before sleeping again, so wakeups are safe to coalesce.
type LockManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	installing map[string]struct{}
	bundles    map[int64]*lockState

	nextToken uint64
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		installing: make(map[string]struct{}),
		bundles:    make(map[int64]*lockState),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

// NewToken mints a fresh LockToken for a new top-level lifecycle call.
func (lm *LockManager) NewToken() LockToken {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.nextToken++
	return LockToken(lm.nextToken)
}

// AcquireInstallLock blocks until no install is in progress for location,
// then marks one in progress. Concurrent Install calls with identical
// location serialize here; exactly one proceeds to create the bundle.
func (lm *LockManager) AcquireInstallLock(ctx context.Context, location string) error {
	return lm.waitFor(ctx, func() bool {
		_, busy := lm.installing[location]
		return !busy
	}, func() {
		lm.installing[location] = struct{}{}
	})
}

// ReleaseInstallLock clears the in-progress marker and wakes waiters.
func (lm *LockManager) ReleaseInstallLock(location string) {
	lm.mu.Lock()
	delete(lm.installing, location)
	lm.mu.Unlock()
	lm.cond.Broadcast()
}

// isLockable reports whether token could acquire bundleID's lock right
// now: the lock is free, or token already owns it (reentrant).
func (lm *LockManager) isLockable(bundleID int64, token LockToken) bool {
	st, held := lm.bundles[bundleID]
	return !held || st.count == 0 || st.owner == token
}

// AcquireBundleLock acquires the priority-2/3 reentrant bundle lock for
// bundleID on behalf of token, blocking while another token holds it.
func (lm *LockManager) AcquireBundleLock(ctx context.Context, bundleID int64, token LockToken) error {
	return lm.waitFor(ctx, func() bool {
		return lm.isLockable(bundleID, token)
	}, func() {
		st, ok := lm.bundles[bundleID]
		if !ok {
			st = &lockState{owner: token}
			lm.bundles[bundleID] = st
		}
		st.owner = token
		st.count++
	})
}

// ReleaseBundleLock releases one level of token's hold on bundleID. When
// count reaches zero the lock becomes free and waiters are woken.
func (lm *LockManager) ReleaseBundleLock(bundleID int64, token LockToken) error {
	lm.mu.Lock()
	st, ok := lm.bundles[bundleID]
	if !ok || st.owner != token || st.count == 0 {
		lm.mu.Unlock()
		return ErrNotLockOwner
	}
	st.count--
	if st.count == 0 {
		delete(lm.bundles, bundleID)
	}
	lm.mu.Unlock()
	lm.cond.Broadcast()
	return nil
}

// AcquireMultiLock atomically locks every bundle in targets on behalf of
// token, used by RefreshEngine over a dependent closure and by bulk
// resolve over every unresolved bundle (spec.md §4.3). Either every
// bundle is locked, or none are — no caller ever observes a partial set.
func (lm *LockManager) AcquireMultiLock(ctx context.Context, targets []int64, token LockToken) error {
	return lm.waitFor(ctx, func() bool {
		for _, id := range targets {
			if !lm.isLockable(id, token) {
				return false
			}
		}
		return true
	}, func() {
		for _, id := range targets {
			st, ok := lm.bundles[id]
			if !ok {
				st = &lockState{owner: token}
				lm.bundles[id] = st
			}
			st.owner = token
			st.count++
		}
	})
}

// ReleaseMultiLock releases one level of token's hold on every bundle in
// targets, all-or-none to match AcquireMultiLock.
func (lm *LockManager) ReleaseMultiLock(targets []int64, token LockToken) {
	lm.mu.Lock()
	for _, id := range targets {
		st, ok := lm.bundles[id]
		if !ok || st.owner != token || st.count == 0 {
			continue
		}
		st.count--
		if st.count == 0 {
			delete(lm.bundles, id)
		}
	}
	lm.mu.Unlock()
	lm.cond.Broadcast()
}

// waitFor blocks on lm.cond until ready() is true, then runs commit() and
// returns nil, all under lm.mu. ctx cancellation wakes the wait early and
// returns ctx.Err(); a background goroutine proxies ctx.Done() into a
// Broadcast since sync.Cond has no native context support.
func (lm *LockManager) waitFor(ctx context.Context, ready func() bool, commit func()) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			lm.cond.Broadcast()
		case <-done:
		}
	}()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	for !ready() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lm.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	commit()
	return nil
}
