package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// legacyInfo mirrors the one-value-per-file bundle.info fallback format
// spec.md §4.1 requires reading when the consolidated bundle.info file is
// absent: individual bundle.id/bundle.location/bundle.state/
// bundle.startlevel/bundle.lastmodified/refresh.counter files, one value
// each. Grounded on BundleArchive.java's original per-field constructors,
// from before the consolidated file format existed.
type legacyInfo struct {
	id           int64
	location     string
	state        int
	startLevel   int
	lastModified time.Time
	refreshCount int64
}

var legacyFiles = []string{
	"bundle.id", "bundle.location", "bundle.state",
	"bundle.startlevel", "bundle.lastmodified", "refresh.counter",
}

// hasLegacyLayout reports whether archiveDir has the legacy per-file
// layout (used when the consolidated bundle.info is missing).
func hasLegacyLayout(archiveDir string) bool {
	for _, name := range legacyFiles {
		if _, err := os.Stat(filepath.Join(archiveDir, name)); err == nil {
			return true
		}
	}
	return false
}

func readLegacyInfo(archiveDir string) (*legacyInfo, error) {
	id, err := readLegacyInt64(archiveDir, "bundle.id")
	if err != nil {
		return nil, err
	}
	location, err := readLegacyString(archiveDir, "bundle.location")
	if err != nil {
		return nil, err
	}
	state, err := readLegacyInt(archiveDir, "bundle.state")
	if err != nil {
		state = 0
	}
	startLevel, err := readLegacyInt(archiveDir, "bundle.startlevel")
	if err != nil {
		startLevel = 1
	}
	lastModMillis, err := readLegacyInt64(archiveDir, "bundle.lastmodified")
	if err != nil {
		lastModMillis = 0
	}
	refreshCount, err := readLegacyInt64(archiveDir, "refresh.counter")
	if err != nil {
		refreshCount = 0
	}

	return &legacyInfo{
		id:           id,
		location:     location,
		state:        state,
		startLevel:   startLevel,
		lastModified: time.UnixMilli(lastModMillis),
		refreshCount: refreshCount,
	}, nil
}

func writeLegacyInfo(archiveDir string, li *legacyInfo) error {
	if err := writeLegacyString(archiveDir, "bundle.id", strconv.FormatInt(li.id, 10)); err != nil {
		return err
	}
	if err := writeLegacyString(archiveDir, "bundle.location", li.location); err != nil {
		return err
	}
	if err := writeLegacyString(archiveDir, "bundle.state", strconv.Itoa(li.state)); err != nil {
		return err
	}
	if err := writeLegacyString(archiveDir, "bundle.startlevel", strconv.Itoa(li.startLevel)); err != nil {
		return err
	}
	if err := writeLegacyString(archiveDir, "bundle.lastmodified", strconv.FormatInt(li.lastModified.UnixMilli(), 10)); err != nil {
		return err
	}
	return writeLegacyString(archiveDir, "refresh.counter", strconv.FormatInt(li.refreshCount, 10))
}

func readLegacyString(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeLegacyString(dir, name, value string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644)
}

func readLegacyInt(dir, name string) (int, error) {
	s, err := readLegacyString(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func readLegacyInt64(dir, name string) (int64, error) {
	s, err := readLegacyString(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}
