package llm

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadImage(t *testing.T) {
	ctx := context.Background()
	local := writeTestImage(t, "page.png")

	t.Run("local path", func(t *testing.T) {
		img, err := loadImage(ctx, http.DefaultClient, local, false)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIMEType)
		assert.Equal(t, []byte("fake-image-bytes"), img.Data)
	})

	t.Run("file URI", func(t *testing.T) {
		img, err := loadImage(ctx, http.DefaultClient, "file://"+local, false)
		require.NoError(t, err)
		assert.Equal(t, []byte("fake-image-bytes"), img.Data)
	})

	t.Run("data URI", func(t *testing.T) {
		uri := "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("xyz"))
		img, err := loadImage(ctx, http.DefaultClient, uri, false)
		require.NoError(t, err)
		assert.Equal(t, "image/webp", img.MIMEType)
		assert.Equal(t, []byte("xyz"), img.Data)
		assert.Equal(t, uri, img.DataURL())
	})

	t.Run("data URI without base64", func(t *testing.T) {
		_, err := loadImage(ctx, http.DefaultClient, "data:text/plain,hello", false)
		assert.Error(t, err)
	})

	t.Run("remote passthrough", func(t *testing.T) {
		img, err := loadImage(ctx, http.DefaultClient, "https://example.com/a.png?sig=1", false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a.png?sig=1", img.DataURL())
		assert.Equal(t, "image/png", img.MIMEType)
	})
}

func TestLoadImageFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("jpegdata"))
	}))
	defer srv.Close()

	img, err := loadImage(context.Background(), srv.Client(), srv.URL+"/p1.jpg", true)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, []byte("jpegdata"), img.Data)
	assert.True(t, strings.HasPrefix(img.DataURL(), "data:image/jpeg;base64,"))

	_, err = loadImage(context.Background(), srv.Client(), srv.URL+"/missing.jpg", true)
	assert.ErrorContains(t, err, "status 404")
}

func TestMimeFromExt(t *testing.T) {
	assert.Equal(t, "image/png", mimeFromExt("/tmp/page_001.PNG"))
	assert.Equal(t, "image/jpeg", mimeFromExt("/tmp/page_001.jpg"))
	assert.Equal(t, "image/jpeg", mimeFromExt("noext"))
	assert.Equal(t, "image/webp", mimeFromExt("https://x.test/a.webp?x=1"))
}

func TestLoadImage_LocalSizeCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(maxImageBytes+1))
	require.NoError(t, f.Close())

	_, err = loadImage(context.Background(), http.DefaultClient, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
