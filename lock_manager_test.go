package modular

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_InstallLockSerializesSameLocation(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	require.NoError(t, lm.AcquireInstallLock(ctx, "file:///a.jar"))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, lm.AcquireInstallLock(ctx, "file:///a.jar"))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second install lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseInstallLock("file:///a.jar")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second install lock never acquired after release")
	}
}

func TestLockManager_InstallLockDifferentLocationsDoNotBlock(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	require.NoError(t, lm.AcquireInstallLock(ctx, "file:///a.jar"))
	require.NoError(t, lm.AcquireInstallLock(ctx, "file:///b.jar"))
}

func TestLockManager_BundleLockIsReentrant(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()
	token := lm.NewToken()

	require.NoError(t, lm.AcquireBundleLock(ctx, 1, token))
	require.NoError(t, lm.AcquireBundleLock(ctx, 1, token))

	require.NoError(t, lm.ReleaseBundleLock(1, token))
	require.NoError(t, lm.ReleaseBundleLock(1, token))

	assert.ErrorIs(t, lm.ReleaseBundleLock(1, token), ErrNotLockOwner)
}

func TestLockManager_BundleLockExcludesOtherTokens(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()
	tokenA := lm.NewToken()
	tokenB := lm.NewToken()

	require.NoError(t, lm.AcquireBundleLock(ctx, 1, tokenA))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, lm.AcquireBundleLock(ctx, 1, tokenB))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("tokenB acquired bundle lock still held by tokenA")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.ReleaseBundleLock(1, tokenA))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("tokenB never acquired bundle lock after tokenA released")
	}
}

func TestLockManager_MultiLockIsAllOrNone(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()
	holder := lm.NewToken()
	contender := lm.NewToken()

	require.NoError(t, lm.AcquireBundleLock(ctx, 2, holder))

	var sawPartial atomic.Bool
	acquired := make(chan struct{})
	go func() {
		require.NoError(t, lm.AcquireMultiLock(ctx, []int64{1, 2, 3}, contender))
		close(acquired)
	}()

	time.Sleep(50 * time.Millisecond)
	if !lm.isLockable(1, holder) && !lm.isLockable(3, holder) {
		sawPartial.Store(true)
	}
	assert.False(t, sawPartial.Load(), "no bundle outside the held set should appear locked while the multi-lock waits")

	require.NoError(t, lm.ReleaseBundleLock(2, holder))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("multi-lock never acquired once the contended bundle freed up")
	}

	lm.ReleaseMultiLock([]int64{1, 2, 3}, contender)
}

func TestLockManager_AcquireBundleLockRespectsContextCancellation(t *testing.T) {
	lm := NewLockManager()
	holder := lm.NewToken()
	blocker := lm.NewToken()

	require.NoError(t, lm.AcquireBundleLock(context.Background(), 5, holder))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := lm.AcquireBundleLock(ctx, 5, blocker)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockManager_ConcurrentBundleLocksNoRace(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	var counter int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := lm.NewToken()
			require.NoError(t, lm.AcquireBundleLock(ctx, 42, token))
			defer func() { _ = lm.ReleaseBundleLock(42, token) }()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), counter)
}
