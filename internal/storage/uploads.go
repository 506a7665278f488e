// Package storage manages the on-disk lifecycle of uploaded files.
package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var filenameSanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// UploadStore persists multipart uploads under unique names inside a single
// directory and owns their best-effort removal. Filenames embed a fresh UUID
// per file, so concurrent requests never collide.
type UploadStore struct {
	dir     string
	allowed map[string]struct{}
	log     zerolog.Logger
}

// NewUploadStore creates the upload directory if needed and returns a store
// that accepts only the given extensions at the API boundary.
func NewUploadStore(dir string, allowedExts []string, log zerolog.Logger) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &UploadStore{dir: dir, allowed: allowed, log: log}, nil
}

// Allowed reports whether the filename carries a whitelisted extension.
func (s *UploadStore) Allowed(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	_, ok := s.allowed[ext]
	return ok
}

// AllowedFormat reports whether a bare format name (no dot) is accepted at
// the API boundary.
func (s *UploadStore) AllowedFormat(format string) bool {
	_, ok := s.allowed[strings.ToLower(format)]
	return ok
}

// Save writes the upload to disk as {uuid}_{sanitized-name} and returns the
// full path.
func (s *UploadStore) Save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%s_%s", newID(), SanitizeFilename(fh.Filename))
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Remove deletes the given paths. Failures are logged, never surfaced; a
// missing file is not a failure.
func (s *UploadStore) Remove(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
		}
	}
}

// SanitizeFilename strips any path components and collapses every run of
// characters outside [a-zA-Z0-9._-] into a single underscore.
func SanitizeFilename(name string) string {
	base := filepath.Base(name)
	clean := filenameSanitizeRegex.ReplaceAllString(base, "_")
	if clean == "" || clean == "." || clean == ".." || clean == "/" {
		return "upload"
	}
	return clean
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
