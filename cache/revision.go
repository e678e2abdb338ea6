package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEntryNotFound = errors.New("cache: revision entry not found")
	ErrNoNativeLib   = errors.New("cache: declared native library not found in content")
)

// Kind tags which of the four Revision variants spec.md §3/§9 describes a
// Revision is: Jar, ReferencedJar, Directory, InputStream. Go has no sum
// types, so Kind plus a single concrete Revision struct stands in for what
// the original expressed as four BundleRevision subclasses.
type Kind int

const (
	KindJar Kind = iota
	KindReferencedJar
	KindDirectory
	KindInputStream
)

func (k Kind) String() string {
	switch k {
	case KindJar:
		return "Jar"
	case KindReferencedJar:
		return "ReferencedJar"
	case KindDirectory:
		return "Directory"
	case KindInputStream:
		return "InputStream"
	default:
		return "Unknown"
	}
}

// Revision is one snapshot of a bundle's content (spec.md §3). Jar and
// InputStream revisions have their content copied into dir; ReferencedJar
// and Directory revisions use root in place.
type Revision struct {
	Kind Kind

	// dir is this revision's directory under the archive root
	// (version<refreshCount>.<index>/), used for the copy-in kinds and
	// for revision.location always.
	dir string

	// root is the in-place content location for ReferencedJar/Directory
	// kinds (the original reference:file: target); for Jar/InputStream
	// it equals the copied-in jar path under dir.
	root string

	manifest map[string]string

	nativeLibs []string
}

// Dir returns the revision's directory under the archive root.
func (r *Revision) Dir() string { return r.dir }

// Root returns the content root this revision serves from.
func (r *Revision) Root() string { return r.root }

// Manifest returns the manifest header map parsed for this revision.
func (r *Revision) Manifest() (map[string]string, error) {
	return r.manifest, nil
}

// HasEntry reports whether path exists within this revision's content,
// treating a Directory/exploded-Jar revision as a filesystem tree rooted
// at Root().
func (r *Revision) HasEntry(path string) bool {
	full := filepath.Join(r.root, path)
	_, err := os.Stat(full)
	return err == nil
}

// Open returns the content at path within this revision, rooted at Root().
// Jar/InputStream revisions only expose their single copied-in jar file, not
// its contents (embedded-content extraction is out of scope, per newRevision);
// Directory and exploded ReferencedJar revisions expose their full tree.
func (r *Revision) Open(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(r.root, path))
}

// VerifyNativeLibraries checks that every declared native library entry
// (spec.md §4.4 step 6) exists in the revision's content.
func (r *Revision) VerifyNativeLibraries() error {
	for _, lib := range r.nativeLibs {
		if !r.HasEntry(lib) {
			return ErrNoNativeLib
		}
	}
	return nil
}

// newRevision classifies location per spec.md §4.1's "Revision selection
// by location prefix" table and materializes it under revisionDir,
// copying content when the variant requires it (Jar/InputStream).
func newRevision(location string, stream io.Reader, revisionDir string, manifest map[string]string, nativeLibs []string, bufSize int) (*Revision, error) {
	if err := os.MkdirAll(revisionDir, 0o755); err != nil {
		return nil, err
	}

	if err := writeRevisionLocation(revisionDir, location); err != nil {
		return nil, err
	}

	if stripped, ok := StripReferencePrefix(location); ok {
		target, _ := StripFileScheme(stripped)
		target = DecodeReferenceLocation(target)
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return &Revision{Kind: KindDirectory, dir: revisionDir, root: target, manifest: manifest, nativeLibs: nativeLibs}, nil
		}
		if err := extractNestedContent(target, revisionDir); err != nil {
			return nil, err
		}
		return &Revision{Kind: KindReferencedJar, dir: revisionDir, root: target, manifest: manifest, nativeLibs: nativeLibs}, nil
	}

	if strings.HasPrefix(location, "inputstream:") {
		jarPath := filepath.Join(revisionDir, "bundle.jar")
		if err := copyStream(stream, jarPath, bufSize); err != nil {
			return nil, err
		}
		return &Revision{Kind: KindInputStream, dir: revisionDir, root: jarPath, manifest: manifest, nativeLibs: nativeLibs}, nil
	}

	// Anything else: a plain URL-ish location copied into the revision
	// directory and treated as a Jar. We accept any reader the caller
	// already resolved the location to (the framework, not this
	// package, owns URL fetching — out of scope per spec.md §1).
	jarPath := filepath.Join(revisionDir, "bundle.jar")
	if err := copyStream(stream, jarPath, bufSize); err != nil {
		return nil, err
	}
	return &Revision{Kind: KindJar, dir: revisionDir, root: jarPath, manifest: manifest, nativeLibs: nativeLibs}, nil
}

// copyStream materializes stream at dst, copying through a bufSize-sized
// buffer (spec.md §6 "cache.bufsize") when bufSize > 0, else leaving
// io.Copy to pick its own.
func copyStream(stream io.Reader, dst string, bufSize int) error {
	if stream == nil {
		// Nothing to copy; the caller is reconstructing an existing
		// archive from disk, or content already lives at dst.
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		return f.Close()
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	if bufSize > 0 {
		_, err = io.CopyBuffer(f, stream, make([]byte, bufSize))
		return err
	}
	_, err = io.Copy(f, stream)
	return err
}

// extractNestedContent is a placeholder for embedded-jar/native-library
// extraction spec.md §4.1 calls for on referenced jars ("embedded jars and
// native libs are still extracted"); actual jar unpacking is delegated to
// the (out-of-scope per spec.md §1) content loader the framework supplies,
// so this only checks that the referenced jar file exists.
func extractNestedContent(jarPath, revisionDir string) error {
	_, err := os.Stat(jarPath)
	return err
}

func writeRevisionLocation(revisionDir, location string) error {
	return os.WriteFile(filepath.Join(revisionDir, "revision.location"), []byte(location), 0o644)
}

func readRevisionLocation(revisionDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(revisionDir, "revision.location"))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
