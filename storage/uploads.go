package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Naming selects how uploads are keyed on disk.
type Naming string

const (
	// NamingUUID stores every upload under a fresh identifier.
	NamingUUID Naming = "uuid"
	// NamingOriginal stores uploads under the client's base name; a later
	// upload with the same name replaces the earlier one.
	NamingOriginal Naming = "original"
)

var (
	ErrInsufficientSpace = errors.New("insufficient space in upload directory")
	ErrEmptyFilename     = errors.New("empty upload filename")
)

func ParseNaming(s string) (Naming, error) {
	switch Naming(s) {
	case NamingUUID, NamingOriginal:
		return Naming(s), nil
	}
	return "", fmt.Errorf("unknown upload naming %q (want %q or %q)", s, NamingUUID, NamingOriginal)
}

// StoredUpload references the bytes of one persisted upload.
type StoredUpload struct {
	ID       string
	Name     string
	Path     string
	Original string
	Size     int64
}

// UploadStore persists uploads to a shared directory. Nothing is ever
// cleaned up.
type UploadStore struct {
	dir          string
	naming       Naming
	minFreeBytes uint64
}

func NewUploadStore(dir string, naming Naming, minFreeBytes uint64) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadStore{dir: dir, naming: naming, minFreeBytes: minFreeBytes}, nil
}

func (s *UploadStore) Dir() string {
	return s.dir
}

// Save writes r under a key chosen by the store's naming mode. The file is
// written to a temporary name first and renamed into place.
func (s *UploadStore) Save(filename string, r io.Reader) (*StoredUpload, error) {
	if s.minFreeBytes > 0 {
		free, err := freeBytes(s.dir)
		if err != nil {
			return nil, fmt.Errorf("check free space: %w", err)
		}
		if free < s.minFreeBytes {
			return nil, fmt.Errorf("%w: %d bytes free", ErrInsufficientSpace, free)
		}
	}

	id := uuid.NewString()
	name, err := s.storageName(id, filename)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("store upload: %w", err)
	}

	return &StoredUpload{
		ID:       id,
		Name:     name,
		Path:     path,
		Original: filename,
		Size:     size,
	}, nil
}

// Open returns the persisted bytes of a stored upload by name.
func (s *UploadStore) Open(name string) (*os.File, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid upload name %q", name)
	}
	return os.Open(filepath.Join(s.dir, name))
}

// FreeBytes reports the space available to the upload directory.
func (s *UploadStore) FreeBytes() (uint64, error) {
	return freeBytes(s.dir)
}

func (s *UploadStore) storageName(id, filename string) (string, error) {
	// browsers on windows may send full paths
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		if s.naming == NamingOriginal {
			return "", ErrEmptyFilename
		}
		base = ""
	}

	if s.naming == NamingOriginal {
		return base, nil
	}
	return id + normalizeExt(filepath.Ext(base)), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
