package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
	ErrTooLarge    = errors.New("file too large")
)

const outputExt = ".mp4"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Storage owns the two areas: uploaded originals and produced artifacts.
type Storage struct {
	uploadDir string
	outputDir string
}

func New(uploadDir, outputDir string) (*Storage, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("storage: empty directory")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return &Storage{uploadDir: uploadDir, outputDir: outputDir}, nil
}

func (s *Storage) UploadDir() string { return s.uploadDir }
func (s *Storage) OutputDir() string { return s.outputDir }

// SecureFilename reduces name to a flat ASCII file name. Accents are folded,
// path separators become underscores and leading dots are stripped, so
// the result is safe as a storage key. It may be empty.
func SecureFilename(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	folded = strings.NewReplacer("/", " ", "\\", " ").Replace(b.String())
	folded = strings.Join(strings.Fields(folded), "_")
	folded = unsafeChars.ReplaceAllString(folded, "")
	return strings.Trim(folded, "._")
}

// OutputName is the artifact name for an upload: processed_<exercise>_<stem>.mp4.
func OutputName(exercise, filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return SecureFilename("processed_" + exercise + "_" + stem + outputExt)
}

func (s *Storage) UploadPath(name string) (string, error) { return resolve(s.uploadDir, name) }
func (s *Storage) OutputPath(name string) (string, error) { return resolve(s.outputDir, name) }

func resolve(dir, name string) (string, error) {
	if name == "" || SecureFilename(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

// SaveUpload streams r into the upload area under name, at most limit bytes
// (0 means unlimited). The file only appears once fully written.
func (s *Storage) SaveUpload(name string, r io.Reader, limit int64) (string, error) {
	dst, err := s.UploadPath(name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.uploadDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	written, err := io.Copy(tmp, src)
	if err != nil {
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if limit > 0 && written > limit {
		return "", fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	return dst, nil
}

// Lookup returns the path of an existing stored file in dir.
func lookup(dir, name string) (string, error) {
	path, err := resolve(dir, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

func (s *Storage) LookupUpload(name string) (string, error) { return lookup(s.uploadDir, name) }
func (s *Storage) LookupOutput(name string) (string, error) { return lookup(s.outputDir, name) }
