package csvio

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// FileSource is a re-openable input backed by a file on disk.
type FileSource struct {
	Path string
}

// Open starts a new sequential read of the file.
func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	return f, nil
}

// Size returns the file size in bytes.
func (s FileSource) Size() (int64, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", s.Path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", s.Path)
	}
	return info.Size(), nil
}

// BytesSource is an in-memory input, mostly useful in tests.
type BytesSource []byte

func (s BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}

func (s BytesSource) Size() (int64, error) { return int64(len(s)), nil }
