package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrImageTooLarge = errors.New("image too large")
)

// Loader resolves classification inputs into images. An input is an http(s)
// URL, a data URI, or a path under SamplesDir ("/samples/plane.jpg").
type Loader struct {
	SamplesDir string
	HTTP       *http.Client
	MaxBytes   int64
}

func NewLoader(samplesDir string, maxBytes int64) *Loader {
	return &Loader{SamplesDir: samplesDir, HTTP: http.DefaultClient, MaxBytes: maxBytes}
}

func (l *Loader) Load(ctx context.Context, input string) (image.Image, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	data, err := l.read(ctx, input)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func (l *Loader) read(ctx context.Context, input string) ([]byte, error) {
	switch {
	case strings.HasPrefix(input, "data:"):
		return l.limit(decodeDataURI(input))
	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		return l.fetch(ctx, input)
	default:
		// "/samples/x.jpg" and "samples/x.jpg" both resolve under SamplesDir
		rel := path.Clean("/" + filepath.ToSlash(input))
		p := filepath.Join(l.SamplesDir, filepath.FromSlash(rel))
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		return l.readAll(f)
	}
}

func (l *Loader) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %s", resp.Status)
	}
	return l.readAll(resp.Body)
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	if l.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, l.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	return l.limit(data, nil)
}

func (l *Loader) limit(data []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if l.MaxBytes > 0 && int64(len(data)) > l.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, l.MaxBytes)
	}
	return data, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data URI: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return []byte(s), nil
}

// DataURI encodes raw image bytes for use as a classification input.
func DataURI(mime string, data []byte) string {
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
