package repository

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
)

const (
	imagesDir = "images"

	// compressedSuffix marks blobs stored brotli-compressed behind an 8-byte length header.
	compressedSuffix = ".br"
)

var ErrInvalidBlobName = errors.New("invalid blob name")

type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionBrotli Compression = "brotli"
)

// BlobStore keeps image bytes by filename. Blobs become visible only once fully written.
type BlobStore struct {
	dir         string
	compression Compression
}

func NewBlobStore(dataDir string, compression Compression) *BlobStore {
	if compression == "" {
		compression = CompressionNone
	}
	return &BlobStore{dir: filepath.Join(dataDir, imagesDir), compression: compression}
}

// ValidateBlobName rejects names that could escape the blob directory.
func ValidateBlobName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		strings.HasSuffix(name, compressedSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidBlobName, name)
	}
	return nil
}

// Put stores everything read from r under name and returns the number of bytes taken.
func (s *BlobStore) Put(name string, r io.Reader) (int64, error) {
	if err := ValidateBlobName(name); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	var written int64
	target := filepath.Join(s.dir, name)
	if s.compression == CompressionBrotli {
		written, err = writeCompressed(tmp, r)
		target += compressedSuffix
	} else {
		written, err = io.Copy(tmp, r)
	}
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to store blob %s: %w", name, err)
	}
	// a re-upload under the other storage form must not leave a stale copy behind
	if s.compression == CompressionBrotli {
		os.Remove(filepath.Join(s.dir, name))
	} else {
		os.Remove(target + compressedSuffix)
	}
	return written, nil
}

func writeCompressed(f *os.File, r io.Reader) (int64, error) {
	var header [8]byte
	if _, err := f.Write(header[:]); err != nil {
		return 0, err
	}
	bw := brotli.NewWriterLevel(f, brotli.DefaultCompression)
	n, err := io.Copy(bw, r)
	if err != nil {
		bw.Close()
		return 0, err
	}
	if err := bw.Close(); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint64(header[:], uint64(n))
	if _, err := f.WriteAt(header[:], 0); err != nil {
		return 0, err
	}
	return n, nil
}

// Open returns the blob's uncompressed size and a reader over its bytes.
func (s *BlobStore) Open(name string) (int64, io.ReadCloser, error) {
	if err := ValidateBlobName(name); err != nil {
		return 0, nil, err
	}
	path := filepath.Join(s.dir, name)
	if f, err := os.Open(path); err == nil {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, nil, fmt.Errorf("failed to stat blob %s: %w", name, err)
		}
		return info.Size(), f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, nil, fmt.Errorf("failed to open blob %s: %w", name, err)
	}

	f, err := os.Open(path + compressedSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("failed to open blob %s: %w", name, err)
	}
	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return 0, nil, fmt.Errorf("failed to read blob header %s: %w", name, err)
	}
	size := int64(binary.BigEndian.Uint64(header[:]))
	return size, &readCloserWrapper{Reader: brotli.NewReader(f), Closer: f}, nil
}

func (s *BlobStore) Exists(name string) bool {
	_, rc, err := s.Open(name)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

type readCloserWrapper struct {
	io.Reader
	io.Closer
}
