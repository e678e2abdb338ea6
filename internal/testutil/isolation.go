package testutil

import (
	"os"
	"sync"
	"testing"
)

// TempCacheDir creates an empty directory for a cache.Cache under
// t.TempDir and returns its path; the directory (and everything written
// under it during the test) is removed automatically when the test ends.
func TempCacheDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create temp cache dir: %v", err)
	}
	return dir
}

// WithIsolatedGlobals snapshots the tracked environment variables (MODULAR_ENV, APP_ENV),
// runs fn, and restores them afterwards so changes made inside fn do not leak past the
// call. It does not serialize concurrent callers. It is intentionally minimal and can be
// extended as more global state is introduced.
func WithIsolatedGlobals(fn func()) {
	// Only environment variable isolation is done here.

	trackedEnv := []string{"MODULAR_ENV", "APP_ENV"}
	envSnapshot := map[string]*string{}
	for _, k := range trackedEnv {
		if v, ok := os.LookupEnv(k); ok {
			val := v
			envSnapshot[k] = &val
		} else {
			envSnapshot[k] = nil
		}
	}

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	defer func() {
		for k, v := range envSnapshot {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	}()

	fn()
}

// Isolate provides a *testing.T integrated variant of WithIsolatedGlobals.
// It snapshots the tracked environment variables, then registers a t.Cleanup
// to restore them automatically. Safe to call multiple times in a test (last
// restore wins, executed LIFO by t.Cleanup). Use this at the top of tests
// that mutate the tracked env vars.
func Isolate(t *testing.T) {
	t.Helper()

	// Deprecated feeder isolation removed; only environment isolation remains.
	trackedEnv := []string{"MODULAR_ENV", "APP_ENV"}
	envSnapshot := map[string]*string{}
	for _, k := range trackedEnv {
		if v, ok := os.LookupEnv(k); ok {
			vCopy := v
			envSnapshot[k] = &vCopy
		} else {
			envSnapshot[k] = nil
		}
	}

	t.Cleanup(func() {
		for k, v := range envSnapshot {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	})
}
