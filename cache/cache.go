package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"
)

var (
	ErrArchiveNotFound  = errors.New("cache: archive not found")
	ErrArchiveExists    = errors.New("cache: archive already exists for this id")
	ErrInvalidCacheRoot = errors.New("cache: root directory is required")
)

const nextIDFile = "bundle.id"

// Cache owns the on-disk cache root across process restarts (spec.md
// §4.1 "Contract"): one Archive subdirectory per bundle id, plus the
// reserved bundle.id file persisting the next-id counter.
type Cache struct {
	mu sync.Mutex

	root     string
	archives map[int64]*Archive

	nextIDMu sync.Mutex
	nextID   int64

	janitor *cron.Cron

	// bufSize sizes the io.CopyBuffer buffer used when materializing Jar/
	// InputStream revision content (spec.md §6 "cache.bufsize"). Zero
	// leaves io.Copy to pick its own buffer.
	bufSize int

	watcher     *contentWatcher
	watchCancel context.CancelFunc
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithJanitorSchedule installs a background cron job (standard 5-field
// expression) that flushes bundle.info/bundle.id to disk and reaps
// orphaned archive directories left over from uninstalled bundles that
// crashed before their next refresh.
func WithJanitorSchedule(spec string) Option {
	return func(c *Cache) {
		if c.janitor == nil {
			c.janitor = cron.New()
		}
		_, _ = c.janitor.AddFunc(spec, c.runJanitor)
	}
}

// WithBufferSize sets the I/O buffer used to copy revision content into
// the cache (spec.md §6 "cache.bufsize"). n <= 0 leaves the default
// io.Copy buffering in place.
func WithBufferSize(n int) Option {
	return func(c *Cache) {
		c.bufSize = n
	}
}

// WithContentWatch starts an fsnotify watcher on the cache root that marks
// the cache dirty whenever an entry is created directly under root —
// an operator dropping bundle content into cache.dir between process
// restarts. Dirty() reports the condition so Framework.Init can trigger a
// reload; ResetDirty() clears it once handled. Watching direct children
// of root only (not every archive subdirectory) keeps this cheap and
// avoids false positives from the cache's own Revise/Purge writes, which
// happen inside already-tracked archive directories.
func WithContentWatch() Option {
	return func(c *Cache) {
		w, err := newContentWatcher(c.root)
		if err != nil {
			return
		}
		c.watcher = w
	}
}

// Open creates or reopens a Cache rooted at dir, reloading every existing
// archive subdirectory found there (spec.md §4.1 "create/get_archives").
func Open(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, ErrInvalidCacheRoot
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	c := &Cache{root: dir, archives: make(map[int64]*Archive)}
	for _, opt := range opts {
		opt(c)
	}

	nextID, err := readNextID(dir)
	if err != nil {
		return nil, err
	}
	c.nextID = nextID

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		archiveDir := filepath.Join(dir, entry.Name())
		a, err := loadArchive(archiveDir, c.bufSize)
		if err != nil {
			continue
		}
		c.archives[id] = a
	}

	if c.janitor != nil {
		c.janitor.Start()
	}

	if c.watcher != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		c.watchCancel = cancel
		go c.watcher.run(watchCtx)
	}

	return c, nil
}

// Rescan reloads any archive subdirectory under root that Cache does not
// already track, picking up content an operator dropped into cache.dir
// between process restarts (spec.md §6, WithContentWatch). Archives already
// tracked are left untouched.
func (c *Cache) Rescan() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		if _, tracked := c.archives[id]; tracked {
			continue
		}
		archiveDir := filepath.Join(c.root, entry.Name())
		a, err := loadArchive(archiveDir, c.bufSize)
		if err != nil {
			continue
		}
		c.archives[id] = a
	}
	return nil
}

// Dirty reports whether content has appeared under the cache root since
// the last ResetDirty, per WithContentWatch. Always false if the cache
// was opened without content watching.
func (c *Cache) Dirty() bool {
	if c.watcher == nil {
		return false
	}
	return c.watcher.dirty.Load()
}

// ResetDirty clears the dirty flag WithContentWatch set, once the caller
// has reacted to it (e.g. Framework.Init reloading from cache).
func (c *Cache) ResetDirty() {
	if c.watcher != nil {
		c.watcher.dirty.Store(false)
	}
}

// NextID allocates and persists the next bundle id before returning it
// (spec.md §3 invariant 3, §4.4 step 4 "persist next-id before using it").
func (c *Cache) NextID() (int64, error) {
	c.nextIDMu.Lock()
	defer c.nextIDMu.Unlock()

	id := c.nextID
	c.nextID++
	if err := writeNextID(c.root, c.nextID); err != nil {
		c.nextID--
		return 0, err
	}
	return id, nil
}

// Create materializes a new archive for id at location, optionally
// reading its first revision from stream.
func (c *Cache) Create(id int64, location string, startLevel int, stream io.Reader, manifest map[string]string, nativeLibs []string) (*Archive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.archives[id]; exists {
		return nil, ErrArchiveExists
	}

	archiveDir := filepath.Join(c.root, strconv.FormatInt(id, 10))
	a, err := createArchive(archiveDir, id, location, startLevel, stream, manifest, nativeLibs, c.bufSize)
	if err != nil {
		return nil, err
	}
	c.archives[id] = a
	return a, nil
}

// Get returns the archive for id.
func (c *Cache) Get(id int64) (*Archive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.archives[id]
	if !ok {
		return nil, ErrArchiveNotFound
	}
	return a, nil
}

// GetArchives returns every archive currently in the cache.
func (c *Cache) GetArchives() []*Archive {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Archive, 0, len(c.archives))
	for _, a := range c.archives {
		out = append(out, a)
	}
	return out
}

// Remove closes and deletes archive, removing it from the cache index.
// Used when RefreshEngine garbage-collects an uninstalled bundle's
// archive (spec.md §4.5 step 6).
func (c *Cache) Remove(a *Archive) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := a.CloseAndDelete(); err != nil {
		return err
	}
	delete(c.archives, a.ID())
	return nil
}

// Flush persists every archive's bundle.info and the next-id counter to
// disk, used both on a clean shutdown and by the janitor.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.archives {
		if err := a.writeInfoLocked(); err != nil {
			return err
		}
	}
	return writeNextID(c.root, c.nextID)
}

// Close stops the background janitor and content watcher, if any, and
// flushes to disk.
func (c *Cache) Close() error {
	if c.janitor != nil {
		c.janitor.Stop()
	}
	if c.watcher != nil {
		c.watchCancel()
		_ = c.watcher.close()
	}
	return c.Flush()
}

// runJanitor flushes state and removes archive directories for bundle
// ids the cache lost track of (a crash between Archive.CloseAndDelete's
// directory removal and its in-memory delete would otherwise leak an
// entry; the reverse — a directory surviving in-memory removal — is what
// this sweeps).
func (c *Cache) runJanitor() {
	_ = c.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		if _, tracked := c.archives[id]; tracked {
			continue
		}
		_ = os.RemoveAll(filepath.Join(c.root, entry.Name()))
	}
}

func readNextID(dir string) (int64, error) {
	path := filepath.Join(dir, nextIDFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, writeNextID(dir, 1) // id 0 is reserved for the system bundle
		}
		return 0, err
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: corrupt %s: %w", nextIDFile, err)
	}
	return id, nil
}

func writeNextID(dir string, id int64) error {
	return os.WriteFile(filepath.Join(dir, nextIDFile), []byte(strconv.FormatInt(id, 10)), 0o644)
}
