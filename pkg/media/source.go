// ABOUTME: Media sources that provide encoded byte streams to an element
// ABOUTME: URLSource reads http(s), file:// URLs and local paths
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Source provides the encoded stream for an element
type Source interface {
	// Open returns the encoded stream starting at or before offset and the
	// remaining time the decoder has to skip to reach offset
	Open(ctx context.Context, offset time.Duration) (io.ReadCloser, time.Duration, error)

	// Duration returns the known length, or 0 when unknown
	Duration() time.Duration
}

// URLSource streams a single encoded file
type URLSource struct {
	URL    string
	Client *http.Client
}

// Open fetches the URL from the beginning; the decoder skips to offset
func (s *URLSource) Open(ctx context.Context, offset time.Duration) (io.ReadCloser, time.Duration, error) {
	if s.URL == "" {
		return nil, 0, ErrNoSource
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid source url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		client := s.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch source: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("source fetch failed: HTTP %d", resp.StatusCode)
		}
		return resp.Body, offset, nil
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open source: %w", err)
		}
		return f, offset, nil
	case "":
		f, err := os.Open(s.URL)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open source: %w", err)
		}
		return f, offset, nil
	}
	return nil, 0, fmt.Errorf("unsupported source scheme %q", u.Scheme)
}

// Duration is unknown until decoded
func (s *URLSource) Duration() time.Duration { return 0 }

// playableTypes are the MIME types an element decodes itself
var playableTypes = map[string]bool{
	"audio/mpeg":   true,
	"audio/mp3":    true,
	"audio/flac":   true,
	"audio/x-flac": true,
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/wave":   true,
	"audio/ogg":    true,
	"audio/opus":   true,
}

func normalizeType(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
