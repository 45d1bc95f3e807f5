// Package storage keeps uploaded images.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedType is returned for content types other than common images.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("upload too large")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store saves objects and resolves their public URLs.
type Store interface {
	// Upload stores r under a new name inside folder and returns its reference.
	Upload(ctx context.Context, folder string, r io.Reader, contentType string) (string, error)
	PublicURL(ref string) string
}

// Local stores objects on the local filesystem.
type Local struct {
	dir      string
	baseURL  string
	maxBytes int64
}

var _ Store = (*Local)(nil)

// NewLocal creates dir if needed. Objects are served under baseURL.
func NewLocal(dir, baseURL string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

func (l *Local) Upload(ctx context.Context, folder string, r io.Reader, contentType string) (string, error) {
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	folder = sanitizeFolder(folder)
	ref := path.Join(folder, uuid.NewString()+ext)

	dest := filepath.Join(l.dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if l.maxBytes > 0 {
		src = io.LimitReader(r, l.maxBytes+1)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if l.maxBytes > 0 && n > l.maxBytes {
		return "", ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return ref, nil
}

// PublicURL returns the URL an object is served at.
func (l *Local) PublicURL(ref string) string {
	return l.baseURL + "/" + ref
}

// Handler serves stored objects. Mount it under the base URL path with the prefix stripped.
func (l *Local) Handler() http.Handler {
	return http.FileServer(http.Dir(l.dir))
}

func sanitizeFolder(folder string) string {
	folder = path.Clean("/" + strings.ReplaceAll(folder, "\\", "/"))
	folder = strings.TrimPrefix(folder, "/")
	if folder == "" || folder == "." {
		return "misc"
	}
	return folder
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
