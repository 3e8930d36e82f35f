// Package report writes and serves the per-run artifacts: annotated media,
// measurement CSVs, and the charts drawn from run history.
package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/tankwatch/internal/fsutil"
	"github.com/banshee-data/tankwatch/internal/security"
)

// Kind is an artifact directory.
type Kind string

const (
	KindImages     Kind = "images"
	KindVideos     Kind = "videos"
	KindSnapshots  Kind = "snapshots"
	KindRecordings Kind = "recordings"
	KindUploads    Kind = "uploads"
)

// Kinds lists every artifact kind.
var Kinds = []Kind{KindImages, KindVideos, KindSnapshots, KindRecordings, KindUploads}

// ErrArtifactNotFound is returned by Resolve for unknown kinds or missing files.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore lays out artifacts under one root directory.
type ArtifactStore struct {
	root string
	fs   fsutil.FileSystem
}

// NewArtifactStore creates a store rooted at root. fs defaults to the OS.
func NewArtifactStore(root string, fs fsutil.FileSystem) *ArtifactStore {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &ArtifactStore{root: root, fs: fs}
}

// FS returns the filesystem the store writes through.
func (s *ArtifactStore) FS() fsutil.FileSystem { return s.fs }

// EnsureDirs creates every kind directory.
func (s *ArtifactStore) EnsureDirs() error {
	for _, k := range Kinds {
		if err := s.fs.MkdirAll(s.Dir(k), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", k, err)
		}
	}
	return nil
}

// Dir is the directory for kind.
func (s *ArtifactStore) Dir(k Kind) string {
	return filepath.Join(s.root, string(k))
}

// Path joins a generated name onto the kind directory.
func (s *ArtifactStore) Path(k Kind, name string) (string, error) {
	return security.SafeJoin(s.Dir(k), name)
}

// URL is the public download path for an artifact.
func URL(k Kind, name string) string {
	return "/artifacts/" + string(k) + "/" + name
}

// Resolve maps a requested kind and name to an existing file. Unknown kinds,
// traversal attempts and missing files all yield ErrArtifactNotFound.
func (s *ArtifactStore) Resolve(kind, name string) (string, error) {
	k, ok := parseKind(kind)
	if !ok {
		return "", ErrArtifactNotFound
	}
	p, err := s.Path(k, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	if !s.fs.Exists(p) {
		return "", ErrArtifactNotFound
	}
	return p, nil
}

func parseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Run artifact names.
func AnnotatedImageName(runID string) string { return runID + "_annotated.png" }
func AnnotatedVideoName(runID string) string { return runID + "_annotated.mp4" }
func CSVName(runID string) string            { return runID + ".csv" }

// UploadName makes a unique, sanitised name for an uploaded file. The client
// file name only contributes its sanitised base name.
func UploadName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	clean := security.SanitizeFilename(base)
	if clean == "" || clean == "_" || strings.Trim(clean, ".") == "" {
		clean = "upload"
	}
	return uuid.NewString()[:8] + "_" + clean
}
