// ABOUTME: Cover art downloader for catalog track images
// ABOUTME: Downloads each image URL once into a local cache directory
package artwork

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxImageBytes bounds a single download
const maxImageBytes = 20 << 20

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

// Config holds downloader configuration
type Config struct {
	// Dir is the cache directory (default $TMPDIR/trackdeck-artwork)
	Dir string

	HTTPClient *http.Client
	UserAgent  string
	Logger     *zap.Logger
}

// Downloader fetches cover images into a cache directory. Concurrent fetches
// of one URL share a single request.
type Downloader struct {
	dir       string
	client    *http.Client
	userAgent string
	log       *zap.Logger

	group singleflight.Group
}

// NewDownloader creates the cache directory and returns a downloader
func NewDownloader(config Config) (*Downloader, error) {
	dir := config.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "trackdeck-artwork")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Downloader{
		dir:       dir,
		client:    client,
		userAgent: config.UserAgent,
		log:       log,
	}, nil
}

// Fetch returns the local path of the image at rawURL, downloading it on
// first use. An empty URL yields an empty path.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	key := cacheKey(rawURL)
	if p, ok := d.cached(key); ok {
		d.log.Debug("artwork cache hit", zap.String("path", p))
		return p, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// the shared download outlives any one caller; the client timeout bounds it
	ch := d.group.DoChan(key, func() (interface{}, error) {
		return d.download(context.WithoutCancel(ctx), rawURL, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// cached looks for a previous download of key with any image extension
func (d *Downloader) cached(key string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(d.dir, key+".*"))
	for _, m := range matches {
		if imageExts[filepath.Ext(m)] {
			return m, true
		}
	}
	return "", false
}

func (d *Downloader) download(ctx context.Context, rawURL, key string) (string, error) {
	d.log.Debug("downloading artwork", zap.String("url", rawURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	}

	dest := filepath.Join(d.dir, key+extension(rawURL, resp.Header.Get("Content-Type")))

	// Readers never see a partial image: write aside, then rename
	tmp, err := os.CreateTemp(d.dir, "download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	_, err = io.Copy(tmp, io.LimitReader(resp.Body, maxImageBytes))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	d.log.Info("artwork saved", zap.String("path", dest))
	return dest, nil
}

// Cleanup removes the cache directory
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.dir)
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:8])
}

// extension picks the file extension from the URL path, then the response
// content type, defaulting to .jpg
func extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); imageExts[ext] {
			return ext
		}
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/png":
			return ".png"
		case "image/webp":
			return ".webp"
		case "image/gif":
			return ".gif"
		}
	}
	return ".jpg"
}
