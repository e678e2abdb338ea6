package modular

import (
	"context"
	"fmt"
	"sort"
)

// RefreshEngine implements spec.md §4.5: compute the transitive dependent
// closure of a refresh request, lock it atomically, and run every
// non-extension target through stop→purge-or-remove→reinitialize→restart
// so that no reference to a dropped revision survives the refresh.
// Grounded on the teacher's ApplicationLifecycle ordered start/stop walk
// (application_lifecycle.go), generalized from a static dependency list
// to Module's dynamic dependents graph, and on Felix's Felix.java refresh
// method for the six-step sequence itself.
type RefreshEngine struct {
	fw *Framework
}

// Refresh implements spec.md §4.5 "refresh(targets?)". A nil/empty
// targets refreshes every bundle with more than one revision plus every
// bundle awaiting refresh after uninstall.
func (r *RefreshEngine) Refresh(ctx context.Context, targets []*BundleInfo) error {
	return r.refreshWithToken(ctx, targets, r.fw.locks.NewToken())
}

// refreshWithToken does the work of Refresh under a caller-supplied token
// instead of always minting a fresh one. Update and Uninstall call this
// directly with the token they already hold on bi's bundle lock: since
// LockManager's multi-lock acquisition treats a bundle already held by
// token as immediately lockable (spec.md §4.3's reentrancy), reusing the
// token lets refresh fold into an in-progress Update/Uninstall without
// deadlocking against its own held lock.
func (r *RefreshEngine) refreshWithToken(ctx context.Context, targets []*BundleInfo, token LockToken) error {
	if len(targets) == 0 {
		targets = r.defaultTargets()
	}
	if len(targets) == 0 {
		return nil
	}

	closure := r.closure(targets)
	if err := r.checkRestartRequired(closure); err != nil {
		return err
	}

	ids := make([]int64, len(closure))
	for i, bi := range closure {
		ids[i] = bi.ID()
	}
	if err := r.fw.locks.AcquireMultiLock(ctx, ids, token); err != nil {
		return fmt.Errorf("refresh: acquire locks: %w", err)
	}
	defer r.fw.locks.ReleaseMultiLock(ids, token)

	r.forgetUninstalled(closure)

	order := r.topoOrder(closure)

	var lastErr error
	for _, bi := range order {
		if bi.IsExtension() || bi.ID() == SystemBundleID {
			continue
		}
		if err := r.refreshOne(ctx, bi); err != nil {
			lastErr = fmt.Errorf("%w", ErrRefreshPartialFailure)
			r.fw.logger.Error("refresh of bundle failed", "bundleID", bi.ID(), "error", err)
			r.fw.emitFrameworkEvent(ctx, FrameworkEventError, err)
		}
	}

	r.fw.emitFrameworkEvent(ctx, FrameworkEventPackagesRefreshed, nil)
	return lastErr
}

// defaultTargets implements §4.5 step 1.
func (r *RefreshEngine) defaultTargets() []*BundleInfo {
	var out []*BundleInfo
	r.fw.mu.RLock()
	for _, bi := range r.fw.installed {
		if archive, err := r.fw.cacheStore.Get(bi.ID()); err == nil && archive.RevisionCount() > 1 {
			out = append(out, bi)
		}
	}
	r.fw.mu.RUnlock()

	r.fw.uninstalledMu.Lock()
	out = append(out, r.fw.uninstalled...)
	r.fw.uninstalledMu.Unlock()
	return out
}

// closure implements §4.5 step 2: for each target, add the target and
// recursively every bundle with a module whose dependents list contains a
// module of a bundle already in the set.
func (r *RefreshEngine) closure(targets []*BundleInfo) []*BundleInfo {
	visited := make(map[int64]*BundleInfo)
	queue := make([]*BundleInfo, 0, len(targets))
	for _, t := range targets {
		if _, ok := visited[t.ID()]; !ok {
			visited[t.ID()] = t
			queue = append(queue, t)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		mods := cur.StaleModules()
		if m := cur.CurrentModule(); m != nil {
			mods = append(mods, m)
		}
		for _, m := range mods {
			for _, dep := range m.Dependents() {
				owner := dep.Bundle
				if owner == nil {
					continue
				}
				if _, ok := visited[owner.ID()]; !ok {
					visited[owner.ID()] = owner
					queue = append(queue, owner)
				}
			}
		}
	}
	out := make([]*BundleInfo, 0, len(visited))
	for _, bi := range visited {
		out = append(out, bi)
	}
	return out
}

// topoOrder walks the closure provider-before-dependent so a bundle that
// imports from another member of the closure is only stopped and rebuilt
// after its provider already has its final, post-refresh module: otherwise
// a dependent restarted too early would resolve against a revision its own
// provider is about to purge out from under it, undoing the rewiring
// refresh exists to do. Independent bundles keep a stable, id-ordered
// relative order.
func (r *RefreshEngine) topoOrder(closure []*BundleInfo) []*BundleInfo {
	index := make(map[int64]*BundleInfo, len(closure))
	for _, bi := range closure {
		index[bi.ID()] = bi
	}

	// providersOf[x] holds the closure members x's module(s) currently
	// depend on, derived from the same Dependents edges closure() walks.
	providersOf := make(map[int64]map[int64]struct{}, len(closure))
	for _, bi := range closure {
		providersOf[bi.ID()] = make(map[int64]struct{})
	}
	for _, bi := range closure {
		mods := bi.StaleModules()
		if m := bi.CurrentModule(); m != nil {
			mods = append(mods, m)
		}
		for _, m := range mods {
			for _, dep := range m.Dependents() {
				if dep.Bundle == nil {
					continue
				}
				if _, inClosure := index[dep.Bundle.ID()]; !inClosure {
					continue
				}
				providersOf[dep.Bundle.ID()][bi.ID()] = struct{}{}
			}
		}
	}

	ordered := append([]*BundleInfo(nil), closure...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })

	out := make([]*BundleInfo, 0, len(ordered))
	visited := make(map[int64]bool, len(ordered))
	var visit func(bi *BundleInfo)
	visit = func(bi *BundleInfo) {
		if visited[bi.ID()] {
			return
		}
		visited[bi.ID()] = true
		providerIDs := make([]int64, 0, len(providersOf[bi.ID()]))
		for id := range providersOf[bi.ID()] {
			providerIDs = append(providerIDs, id)
		}
		sort.Slice(providerIDs, func(i, j int) bool { return providerIDs[i] < providerIDs[j] })
		for _, id := range providerIDs {
			visit(index[id])
		}
		out = append(out, bi)
	}
	for _, bi := range ordered {
		visit(bi)
	}
	return out
}

// checkRestartRequired implements §4.5 step 4 and DESIGN.md decision (a):
// a refresh closure that includes an extension bundle, or the system
// bundle while any extension is still INSTALLED, cannot be satisfied
// in-process and is surfaced as ErrRestartRequired rather than silently
// dropped.
func (r *RefreshEngine) checkRestartRequired(closure []*BundleInfo) error {
	systemTargeted := false
	for _, bi := range closure {
		if bi.IsExtension() {
			return fmt.Errorf("refresh: extension bundle %d in closure: %w", bi.ID(), ErrRestartRequired)
		}
		if bi.ID() == SystemBundleID {
			systemTargeted = true
		}
	}
	if !systemTargeted {
		return nil
	}
	r.fw.mu.RLock()
	defer r.fw.mu.RUnlock()
	for _, bi := range r.fw.installed {
		if bi.IsExtension() && bi.State() == StateInstalled {
			return fmt.Errorf("refresh: system bundle targeted with pending extension %d: %w", bi.ID(), ErrRestartRequired)
		}
	}
	return nil
}

func (r *RefreshEngine) forgetUninstalled(closure []*BundleInfo) {
	refreshed := make(map[int64]struct{}, len(closure))
	for _, bi := range closure {
		refreshed[bi.ID()] = struct{}{}
	}
	r.fw.uninstalledMu.Lock()
	defer r.fw.uninstalledMu.Unlock()
	kept := r.fw.uninstalled[:0]
	for _, bi := range r.fw.uninstalled {
		if _, gone := refreshed[bi.ID()]; !gone {
			kept = append(kept, bi)
		}
	}
	r.fw.uninstalled = kept
}

// refreshOne implements §4.5 step 6's per-bundle stop/purge-or-remove/
// reinitialize/restart sequence.
func (r *RefreshEngine) refreshOne(ctx context.Context, bi *BundleInfo) error {
	wasActive := bi.State() == StateActive

	if err := r.fw.engine.stopLocked(ctx, bi, false); err != nil {
		r.fw.logger.Warn("refresh: stop failed, continuing", "bundleID", bi.ID(), "error", err)
	}

	if bi.PersistentState() == PersistentUninstalled {
		return r.garbageCollect(bi)
	}
	if err := r.purgeAndRebuild(bi); err != nil {
		return err
	}

	bi.SetProtectionDomain(nil)
	bi.SetState(StateInstalled)
	r.fw.emitBundleEvent(ctx, BundleEventUnresolved, bi)

	if wasActive {
		if err := r.fw.engine.startLocked(ctx, bi, false); err != nil {
			return fmt.Errorf("refresh: restart %d: %w", bi.ID(), err)
		}
	}
	return nil
}

func (r *RefreshEngine) garbageCollect(bi *BundleInfo) error {
	archive, err := r.fw.cacheStore.Get(bi.ID())
	if err == nil {
		if err := r.fw.cacheStore.Remove(archive); err != nil {
			r.fw.logger.Warn("refresh: failed to remove archive for uninstalled bundle", "bundleID", bi.ID(), "error", err)
		}
	}
	bi.SetCurrentModule(nil)
	bi.ClearStaleModules()
	return nil
}

func (r *RefreshEngine) purgeAndRebuild(bi *BundleInfo) error {
	archive, err := r.fw.cacheStore.Get(bi.ID())
	if err != nil {
		return fmt.Errorf("refresh %d: %w", bi.ID(), ErrArchiveNotFound)
	}
	if err := archive.Purge(); err != nil {
		return fmt.Errorf("refresh %d: purge: %w", bi.ID(), ErrCacheFailure)
	}
	module, err := r.fw.engine.buildModule(bi, archive)
	if err != nil {
		return fmt.Errorf("refresh %d: rebuild module: %w", bi.ID(), err)
	}
	bi.SetCurrentModule(module)
	bi.ClearStaleModules()
	return nil
}
