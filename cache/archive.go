package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrNoRevisions          = errors.New("cache: archive has no revisions")
	ErrCannotRollbackSingle = errors.New("cache: cannot roll back the only revision")
)

const (
	bundleInfoFile = "bundle.info"
	dataDirName    = "data"
	revisionPrefix = "version"
)

// archiveInfo is the consolidated bundle.info record spec.md §4.1
// describes: id, original_location, persistent_state, start_level,
// last_modified, refresh_count.
type archiveInfo struct {
	ID               int64     `json:"id"`
	OriginalLocation string    `json:"original_location"`
	PersistentState  int       `json:"persistent_state"`
	StartLevel       int       `json:"start_level"`
	LastModified     time.Time `json:"last_modified"`
	RefreshCount     int64     `json:"refresh_count"`
}

// Archive is the persistent backing of one bundle across revisions and
// process restarts (spec.md §3 "BundleArchive", §4.1 "Contract").
type Archive struct {
	mu sync.Mutex

	rootDir string
	info    archiveInfo

	// revisions is ordered oldest→newest; a nil entry is a placeholder
	// for a revision slot reloadRevisions could not reload, kept so
	// Purge still drops the slot.
	revisions []*Revision

	// bufSize is the owning Cache's cache.bufsize, threaded through to
	// newRevision's content copy.
	bufSize int
}

// ID returns the bundle id this archive backs.
func (a *Archive) ID() int64 { return a.info.ID }

// OriginalLocation returns the location the bundle was first installed
// from.
func (a *Archive) OriginalLocation() string { return a.info.OriginalLocation }

// PersistentState returns the archive's persisted lifecycle intent.
func (a *Archive) PersistentState() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.PersistentState
}

// SetPersistentState updates and persists the archive's persistent state.
func (a *Archive) SetPersistentState(state int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.PersistentState = state
	a.info.LastModified = time.Now()
	return a.writeInfoLocked()
}

// StartLevel returns the archive's persisted start level.
func (a *Archive) StartLevel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.StartLevel
}

// SetStartLevel updates and persists the archive's start level.
func (a *Archive) SetStartLevel(level int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.StartLevel = level
	return a.writeInfoLocked()
}

// LastModified returns the last-modified timestamp.
func (a *Archive) LastModified() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.LastModified
}

// RefreshCount returns the number of refreshes this archive has survived.
func (a *Archive) RefreshCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.RefreshCount
}

// RevisionCount returns the number of live revisions.
func (a *Archive) RevisionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.revisions)
}

// Revision returns the i-th revision (0-indexed, oldest first).
func (a *Archive) Revision(i int) (*Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.revisions) || a.revisions[i] == nil {
		return nil, ErrEntryNotFound
	}
	return a.revisions[i], nil
}

// CurrentRevision returns the newest live revision.
func (a *Archive) CurrentRevision() (*Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.revisions) - 1; i >= 0; i-- {
		if a.revisions[i] != nil {
			return a.revisions[i], nil
		}
	}
	return nil, ErrNoRevisions
}

// DataFile returns the absolute path to a private-data file for the
// bundle, creating the data directory on first use.
func (a *Archive) DataFile(relativePath string) (string, error) {
	dir := filepath.Join(a.rootDir, dataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, relativePath), nil
}

// revisionDirName builds the "version<refreshCount>.<index>" directory
// name spec.md §4.1 specifies, unique across refreshes because a fresh
// refresh count gives every revision a unique absolute path (needed for
// native-library rebinding).
func (a *Archive) revisionDirName(index int) string {
	return fmt.Sprintf("%s%d.%d", revisionPrefix, a.info.RefreshCount, index)
}

// Revise appends a new revision built from location/stream, used by both
// Install (first revision) and Update (subsequent revisions).
func (a *Archive) Revise(location string, stream io.Reader, manifest map[string]string, nativeLibs []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	index := len(a.revisions)
	dir := filepath.Join(a.rootDir, a.revisionDirName(index))
	rev, err := newRevision(location, stream, dir, manifest, nativeLibs, a.bufSize)
	if err != nil {
		return err
	}

	a.revisions = append(a.revisions, rev)
	a.info.LastModified = time.Now()
	return a.writeInfoLocked()
}

// RollbackRevise reverses a failed update (spec.md §4.1 "Rationale"):
// closes and removes the newest revision's directory and pops it from
// the list. Fails if only one revision exists (nothing to roll back to).
func (a *Archive) RollbackRevise() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.revisions) <= 1 {
		return false, ErrCannotRollbackSingle
	}

	last := a.revisions[len(a.revisions)-1]
	if last != nil {
		if err := os.RemoveAll(last.Dir()); err != nil {
			return false, err
		}
	}
	a.revisions = a.revisions[:len(a.revisions)-1]
	return true, a.writeInfoLocked()
}

// Purge removes all but the newest revision and bumps refresh_count,
// giving every subsequent Revise a fresh, unique directory namespace
// (spec.md §4.5 step 6 "purge old revisions and keep only newest").
func (a *Archive) Purge() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.revisions) == 0 {
		return nil
	}
	newest := a.revisions[len(a.revisions)-1]
	for _, rev := range a.revisions[:len(a.revisions)-1] {
		if rev != nil {
			_ = os.RemoveAll(rev.Dir())
		}
	}
	a.revisions = []*Revision{newest}
	a.info.RefreshCount++
	return a.writeInfoLocked()
}

// Close releases any open resources. Archive keeps no open file handles
// between calls, so this is a no-op kept for contract symmetry with
// BundleCache.Remove's close-then-delete sequencing.
func (a *Archive) Close() error { return nil }

// CloseAndDelete closes the archive and removes its entire root
// directory from disk, used when an uninstalled bundle is garbage
// collected during refresh (spec.md §4.5 step 6 "garbage-collect").
func (a *Archive) CloseAndDelete() error {
	if err := a.Close(); err != nil {
		return err
	}
	return os.RemoveAll(a.rootDir)
}

func (a *Archive) writeInfoLocked() error {
	b, err := json.MarshalIndent(a.info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(a.rootDir, bundleInfoFile), b, 0o644); err != nil {
		return err
	}
	// Keep the legacy one-file-per-field layout in sync so a reader on
	// an older code path (or a crash between writes) still finds a
	// consistent fallback (spec.md §4.1 "Failure semantics").
	return writeLegacyInfo(a.rootDir, &legacyInfo{
		id:           a.info.ID,
		location:     a.info.OriginalLocation,
		state:        a.info.PersistentState,
		startLevel:   a.info.StartLevel,
		lastModified: a.info.LastModified,
		refreshCount: a.info.RefreshCount,
	})
}

// createArchive initializes a brand-new archive directory for id/location
// and writes its first revision from stream (or nil for a reference/URL
// install, handled inside newRevision).
func createArchive(rootDir string, id int64, location string, startLevel int, stream io.Reader, manifest map[string]string, nativeLibs []string, bufSize int) (*Archive, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}

	a := &Archive{
		rootDir: rootDir,
		bufSize: bufSize,
		info: archiveInfo{
			ID:               id,
			OriginalLocation: location,
			PersistentState:  0,
			StartLevel:       startLevel,
			LastModified:     time.Now(),
			RefreshCount:     0,
		},
	}
	if err := a.Revise(location, stream, manifest, nativeLibs); err != nil {
		_ = os.RemoveAll(rootDir)
		return nil, err
	}
	return a, nil
}

// loadArchive reconstructs an Archive from an existing rootDir, falling
// back to the legacy per-file layout when the consolidated bundle.info is
// absent (spec.md §4.1 "Failure semantics").
func loadArchive(rootDir string, bufSize int) (*Archive, error) {
	info, err := readArchiveInfo(rootDir)
	if err != nil {
		return nil, err
	}

	a := &Archive{rootDir: rootDir, bufSize: bufSize, info: *info}
	revisions, err := reloadRevisions(rootDir, info.RefreshCount)
	if err != nil {
		return nil, err
	}
	a.revisions = revisions
	return a, nil
}

func readArchiveInfo(rootDir string) (*archiveInfo, error) {
	infoPath := filepath.Join(rootDir, bundleInfoFile)
	if b, err := os.ReadFile(infoPath); err == nil {
		var info archiveInfo
		if err := json.Unmarshal(b, &info); err != nil {
			return nil, err
		}
		return &info, nil
	}

	if !hasLegacyLayout(rootDir) {
		return nil, fmt.Errorf("cache: no bundle.info or legacy layout found in %s", rootDir)
	}
	li, err := readLegacyInfo(rootDir)
	if err != nil {
		return nil, err
	}
	return &archiveInfo{
		ID:               li.id,
		OriginalLocation: li.location,
		PersistentState:  li.state,
		StartLevel:       li.startLevel,
		LastModified:     li.lastModified,
		RefreshCount:     li.refreshCount,
	}, nil
}

// reloadRevisions walks version<refreshCount>.<index>/ directories in
// order starting at index 0 and stops at the first index with no
// revision.location file. Revision directories past that gap are not
// tracked and get no placeholder slot, so Purge does not remove them.
func reloadRevisions(rootDir string, refreshCount int64) ([]*Revision, error) {
	var revisions []*Revision
	index := 0
	for {
		dir := filepath.Join(rootDir, fmt.Sprintf("%s%d.%d", revisionPrefix, refreshCount, index))
		loc, err := readRevisionLocation(dir)
		if err != nil {
			break
		}
		rev, err := reloadRevision(dir, loc)
		if err != nil {
			revisions = append(revisions, nil)
		} else {
			revisions = append(revisions, rev)
		}
		index++
	}
	return revisions, nil
}

func reloadRevision(dir, location string) (*Revision, error) {
	kind := KindJar
	root := filepath.Join(dir, "bundle.jar")
	if stripped, ok := StripReferencePrefix(location); ok {
		target, _ := StripFileScheme(stripped)
		target = DecodeReferenceLocation(target)
		root = target
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			kind = KindDirectory
		} else {
			kind = KindReferencedJar
		}
	} else if _, ok := StripFileScheme(location); !ok {
		kind = KindInputStream
	}
	return &Revision{Kind: kind, dir: dir, root: root}, nil
}
