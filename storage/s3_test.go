package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/config"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentTypeFor("4021/casa-4021-1.JPG"))
	assert.Equal(t, "image/png", ContentTypeFor("a.png"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

func TestS3UploaderUploadFile(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
		cts  = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts[r.URL.Path] = string(body)
		cts[r.URL.Path] = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(context.Background(), config.S3Config{
		Bucket:          "photos",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "casa-1.jpg")
	require.NoError(t, os.WriteFile(local, []byte("jpeg"), 0o644))

	require.NoError(t, up.UploadFile(context.Background(), "4021/casa-1.jpg", local))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, puts["/photos/4021/casa-1.jpg"], "jpeg")
	assert.Equal(t, "image/jpeg", cts["/photos/4021/casa-1.jpg"])

	err = up.UploadFile(context.Background(), "x.jpg", filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
