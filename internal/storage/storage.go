// Package storage keeps uploaded source files on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/dataset"
)

// ErrInvalidName is returned for names that escape the storage root.
var ErrInvalidName = errors.New("invalid file name")

// Mode selects how a stored file is opened.
type Mode string

const (
	// ModeBinary hands out the raw bytes.
	ModeBinary Mode = "rb"
	// ModeText strips a BOM and replaces invalid UTF-8.
	ModeText Mode = "rt"
)

// ParseMode recognizes "rb" and "rt".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeBinary, ModeText:
		return Mode(s), true
	}
	return "", false
}

// FileStorage stores files below Root, new uploads in the UploadTo subdirectory.
type FileStorage struct {
	Root     string
	UploadTo string
}

// New returns a FileStorage and makes sure the upload directory exists.
func New(root, uploadTo string) (*FileStorage, error) {
	fs := &FileStorage{Root: root, UploadTo: uploadTo}
	if err := os.MkdirAll(filepath.Join(root, uploadTo), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return fs, nil
}

// Save copies r into the upload directory and returns the stored name,
// relative to Root. Names are prefixed with a uuid so uploads never collide.
func (s *FileStorage) Save(name string, r io.Reader) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	stored := filepath.ToSlash(filepath.Join(s.UploadTo, uuid.NewString()+"_"+base))

	path, err := s.path(stored)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", stored, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", stored, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", stored, err)
	}
	return stored, nil
}

// Open opens a stored file. In text mode the reader skips a BOM and
// sanitizes invalid UTF-8.
func (s *FileStorage) Open(name string, mode Mode) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if mode == ModeText {
		return textFile{Reader: dataset.WrapText(f), file: f}, nil
	}
	return f, nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *FileStorage) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Size returns the stored file's size in bytes.
func (s *FileStorage) Size(name string) (int64, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileStorage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.Root, clean), nil
}

type textFile struct {
	io.Reader
	file *os.File
}

func (t textFile) Close() error { return t.file.Close() }
