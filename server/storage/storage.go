package storage

import (
	"errors"
	"io"
	"strings"
	"time"
)

// Storage is an abstraction of a blob store (eg a directory, or a GCS bucket)
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Directories inside the store
const (
	ImagesDir   = "images"
	SaliencyDir = "saliency_folder"
)

var ErrInvalidName = errors.New("invalid file name")
var ErrNotFound = errors.New("file not found")

// ValidName returns false for names that could escape the root of the store
func ValidName(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !strings.HasPrefix(name, "/") && !strings.Contains(name, "\\")
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}
