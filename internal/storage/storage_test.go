package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndServe(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(dir, "/uploads/", 1024)
	require.NoError(t, err)

	ref, err := s.Upload(context.Background(), "events", strings.NewReader("fake-png"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "events/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))
	assert.Equal(t, "/uploads/"+ref, s.PublicURL(ref))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref)))
	require.NoError(t, err)
	assert.Equal(t, "fake-png", string(data))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+ref, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake-png", rec.Body.String())
}

func TestUploadRejectsType(t *testing.T) {
	s, err := NewLocal(t.TempDir(), "/uploads", 0)
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "events", strings.NewReader("<html>"), "text/html")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUploadRejectsOversize(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(dir, "/uploads", 4)
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "events", bytes.NewReader([]byte("12345")), "image/jpeg")
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload is removed")
}

func TestSanitizeFolder(t *testing.T) {
	assert.Equal(t, "misc", sanitizeFolder(""))
	assert.Equal(t, "etc", sanitizeFolder("../../etc"))
	assert.Equal(t, "a/b", sanitizeFolder(`a\b`))
}
