package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadDataURI(t *testing.T) {
	l := NewLoader(t.TempDir(), 0)
	img, err := l.Load(context.Background(), DataURI("image/png", pngBytes(t, 3, 2)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestLoadSamplePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "samples"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "samples", "plane.png"), pngBytes(t, 5, 4), 0644))

	l := NewLoader(dir, 0)
	img, err := l.Load(context.Background(), "/samples/plane.png")
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())

	// traversal stays inside the samples directory
	_, err = l.Load(context.Background(), "/../../etc/passwd")
	assert.Error(t, err)
}

func TestLoadURL(t *testing.T) {
	body := pngBytes(t, 2, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(body) //nolint:errcheck
	}))
	defer srv.Close()

	l := NewLoader("", 0)
	_, err := l.Load(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)

	_, err = l.Load(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
}

func TestLoadLimitsAndErrors(t *testing.T) {
	l := NewLoader("", 16)
	_, err := l.Load(context.Background(), DataURI("image/png", pngBytes(t, 8, 8)))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = l.Load(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	l = NewLoader("", 0)
	_, err = l.Load(context.Background(), "data:image/png;base64,@@@")
	assert.Error(t, err)

	_, err = l.Load(context.Background(), "data:text/plain,hello")
	assert.ErrorContains(t, err, "decode")
}
