// Package hub fetches model files from a Hugging Face compatible repository
// and keeps them in a local cache directory.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/krau/konaclassify/pipeline"
)

const progressInterval = 100 * time.Millisecond

var ErrNotFound = errors.New("file not found in model repository")

type Client struct {
	BaseURL  string
	Revision string
	CacheDir string
	HTTP     *http.Client
}

func New(baseURL, revision, cacheDir string) *Client {
	if revision == "" {
		revision = "main"
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Revision: revision,
		CacheDir: cacheDir,
		HTTP:     http.DefaultClient,
	}
}

// Fetch returns a local path for file in model, downloading it on a cache
// miss. A model that names an existing directory is read from disk directly.
func (c *Client) Fetch(ctx context.Context, model, file string, progress pipeline.ProgressFunc) (string, error) {
	if local, ok := localModel(model); ok {
		path := filepath.Join(local, filepath.FromSlash(file))
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, model, file)
		}
		progress.Emit(pipeline.Progress{Status: pipeline.StatusDone, Name: model, File: file})
		return path, nil
	}

	dest, err := c.cachePath(model, file)
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		progress.Emit(pipeline.Progress{Status: pipeline.StatusDone, Name: model, File: file})
		return dest, nil
	}

	progress.Emit(pipeline.Progress{Status: pipeline.StatusDownload, Name: model, File: file})
	if err := c.download(ctx, model, file, dest, progress); err != nil {
		return "", err
	}
	progress.Emit(pipeline.Progress{Status: pipeline.StatusDone, Name: model, File: file})
	return dest, nil
}

// FetchAll fetches files concurrently. Paths are returned in the order of
// files. progress calls are serialized.
func (c *Client) FetchAll(ctx context.Context, model string, files []string, progress pipeline.ProgressFunc) ([]string, error) {
	var mu sync.Mutex
	serialized := func(p pipeline.Progress) {
		mu.Lock()
		defer mu.Unlock()
		progress.Emit(p)
	}

	paths := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			path, err := c.Fetch(gctx, model, file, serialized)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// FileURL is the download location of file in model at the client revision.
func (c *Client) FileURL(model, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, model, url.PathEscape(c.Revision), file)
}

func (c *Client) cachePath(model, file string) (string, error) {
	clean := filepath.Clean(filepath.Join(c.CacheDir, filepath.FromSlash(model), filepath.FromSlash(file)))
	root := filepath.Clean(c.CacheDir)
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid model path %q", model+"/"+file)
	}
	return clean, nil
}

func (c *Client) download(ctx context.Context, model, file, dest string, progress pipeline.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(model, file), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s/%s: %w", model, file, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s", ErrNotFound, model, file)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("failed to fetch %s/%s: %s", model, file, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := &progressWriter{
		fn:    progress,
		base:  pipeline.Progress{Status: pipeline.StatusProgress, Name: model, File: file},
		total: resp.ContentLength,
	}
	w.flush()
	if _, err := io.Copy(io.MultiWriter(tmp, w), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s/%s: %w", model, file, err)
	}
	w.flush()
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	slog.Debug("Downloaded model file", slog.String("model", model), slog.String("file", file), slog.Int64("bytes", w.loaded))
	return nil
}

func localModel(model string) (string, bool) {
	st, err := os.Stat(model)
	if err != nil || !st.IsDir() {
		return "", false
	}
	return model, true
}

type progressWriter struct {
	fn       pipeline.ProgressFunc
	base     pipeline.Progress
	loaded   int64
	reported int64
	total    int64
	sent     bool
	last     time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.loaded += int64(len(p))
	if time.Since(w.last) >= progressInterval {
		w.flush()
	}
	return len(p), nil
}

func (w *progressWriter) flush() {
	w.last = time.Now()
	if w.sent && w.loaded == w.reported {
		return
	}
	w.sent = true
	w.reported = w.loaded
	ev := w.base
	ev.Loaded = w.loaded
	ev.Total = w.total
	ev.Progress = pipeline.Percent(w.loaded, w.total)
	w.fn.Emit(ev)
}
