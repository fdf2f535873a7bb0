package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"supportdesk/pkg/types"
)

// uploadField is the multipart field clients send the image in.
const uploadField = "file"

// imageExtensions maps the sniffed content types we accept to file extensions.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// FUNCTIONAL DISCOVERY: POST /api/upload/image - store an attachment and return its public URL
// The content type is sniffed from the bytes, never trusted from the client
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	if s.uploadDir == "" {
		s.sendError(w, r, http.StatusServiceUnavailable, "uploads are disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1024)

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, r, http.StatusRequestEntityTooLarge, "image exceeds the upload limit")
			return
		}
		s.sendError(w, r, http.StatusBadRequest, fmt.Sprintf("%v: multipart field %q is required", types.ErrInvalidRequest, uploadField))
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		s.sendError(w, r, http.StatusBadRequest, "failed to read upload")
		return
	}
	head = head[:n]
	ext, ok := imageExtensions[http.DetectContentType(head)]
	if !ok {
		s.sendError(w, r, http.StatusUnsupportedMediaType, "only png, jpeg, gif and webp images are accepted")
		return
	}

	name := uuid.NewString() + ext
	written, err := s.store(name, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		s.sendError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if written > s.maxUploadBytes {
		_ = os.Remove(filepath.Join(s.uploadDir, name))
		s.sendError(w, r, http.StatusRequestEntityTooLarge, "image exceeds the upload limit")
		return
	}

	s.logger.Info("image uploaded", "name", name, "bytes", written)
	s.sendJSON(w, http.StatusOK, types.Upload{URL: publicURL(r, name)})
}

func (s *Server) store(name string, content io.Reader) (int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}
	out, err := os.OpenFile(filepath.Join(s.uploadDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload: %w", err)
	}
	// Copy one byte past the limit so oversize files are detected without reading them whole.
	written, err := io.Copy(out, io.LimitReader(content, s.maxUploadBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out.Name())
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}
	return written, nil
}

// publicURL builds an absolute URL under /uploads/ for the request's host.
func publicURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s/uploads/%s", scheme, r.Host, name)
}
