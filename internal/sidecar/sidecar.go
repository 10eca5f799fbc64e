// Package sidecar moves one image blob per connection: an upload to end of
// stream or a length-prefixed download.
package sidecar

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"fsanano/marketplace/internal/repository"
)

const (
	UploadPrefix  = "UPLOAD:"
	UploadSuccess = "UPLOAD_SUCCESS"
	UploadFailed  = "UPLOAD_FAILED"

	// NotFoundLength is sent in place of a size when the blob does not exist.
	NotFoundLength int64 = -1
)

type Server struct {
	blobs  *repository.BlobStore
	logger *slog.Logger
}

func NewServer(blobs *repository.BlobStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{blobs: blobs, logger: logger}
}

// Serve handles exactly one command on rw. Upload bodies run to end of stream,
// so the peer must half-close its write side before it can read the reply.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter, logger *slog.Logger) error {
	if logger == nil {
		logger = s.logger
	}
	r := bufio.NewReader(rw)
	command, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || command == "") {
		return fmt.Errorf("failed to read command: %w", err)
	}
	command = strings.TrimRight(command, "\r\n")

	if name, ok := strings.CutPrefix(command, UploadPrefix); ok {
		return s.upload(rw, r, strings.TrimSpace(name), logger)
	}
	return s.download(rw, command, logger)
}

func (s *Server) upload(w io.Writer, body io.Reader, name string, logger *slog.Logger) error {
	n, err := s.blobs.Put(name, body)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidBlobName) {
			logger.Warn("upload rejected", "image", name, "error", err)
		} else {
			logger.Error("upload failed", "image", name, "error", err)
		}
		// drain so the peer reads the reply instead of a reset
		io.Copy(io.Discard, body)
		_, werr := io.WriteString(w, UploadFailed+"\n")
		return werr
	}
	logger.Info("image uploaded", "image", name, "bytes", n)
	_, err = io.WriteString(w, UploadSuccess+"\n")
	return err
}

func (s *Server) download(w io.Writer, name string, logger *slog.Logger) error {
	size, rc, err := s.blobs.Open(name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidBlobName) {
			logger.Debug("image not found", "image", name)
		} else {
			logger.Error("download failed", "image", name, "error", err)
		}
		return binary.Write(w, binary.BigEndian, NotFoundLength)
	}
	defer rc.Close()

	if err := binary.Write(w, binary.BigEndian, size); err != nil {
		return err
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}
	logger.Debug("image sent", "image", name, "bytes", n)
	return nil
}
