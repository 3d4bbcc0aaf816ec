package media

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestLoadLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("%PDF-1.4"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noext"), pngHeader, 0o600))

	m, err := LoadLocal(dir, "report.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", m.MimeType)
	assert.Equal(t, "report.pdf", m.FileName)

	m, err = LoadLocal(dir, "noext", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.MimeType)
}

func TestLoadLocalStaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o600))

	_, err := LoadLocal(dir, "../secret.txt", 0)
	assert.Error(t, err)

	_, err = LoadLocal(dir, "", 0)
	assert.Error(t, err)
}

func TestLoadLocalSizeLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 64), 0o600))

	_, err := LoadLocal(dir, "big.bin", 32)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/logo.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			w.Write(pngHeader)
		case "/big":
			w.Write(make([]byte, 128))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 64)
	ctx := context.Background()

	m, err := f.Fetch(ctx, srv.URL+"/img/logo.png", "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.MimeType)
	assert.Equal(t, "logo.png", m.FileName)
	assert.Equal(t, pngHeader, m.Data)

	m, err = f.Remote(srv.URL+"/img/logo.png", "Brand").Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Brand", m.FileName)

	_, err = f.Fetch(ctx, srv.URL+"/missing", "")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/big", "")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Fetch(ctx, "ftp://example.com/file", "")
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "chart.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	fh := req.MultipartForm.File["file"][0]

	m, err := Upload(fh, "", 0).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chart.png", m.FileName)
	assert.Equal(t, "image/png", m.MimeType)

	m, err = Upload(fh, "Quarterly", 0).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Quarterly", m.FileName)

	_, err = Upload(nil, "", 0).Resolve(context.Background())
	assert.Error(t, err)
}
