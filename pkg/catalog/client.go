// ABOUTME: Catalog listing client for HTTP backends and local files
// ABOUTME: Fetches track descriptors once per view and drops invalid entries
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ListPath is the listing endpoint relative to the catalog base URL
const ListPath = "/audio/list-audio/"

// Lister returns the ordered track listing
type Lister interface {
	List(ctx context.Context) ([]Track, error)
}

// Config holds client configuration
type Config struct {
	// BaseURL is the catalog API root, e.g. http://host:8000
	BaseURL string

	// UserAgent is sent with every request
	UserAgent string

	// HTTPClient defaults to a client with a 15 second timeout
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client fetches the listing from a catalog HTTP API
type Client struct {
	config Config
	client *http.Client
	log    *zap.Logger
}

// NewClient creates a new catalog client
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		client: httpClient,
		log:    log,
	}
}

// List fetches all tracks. An empty catalog is reported by the backend as an
// object with a "message" field and is returned as an empty slice.
func (c *Client) List(ctx context.Context) ([]Track, error) {
	url := c.config.BaseURL + ListPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	tracks, err := decodeListing(body)
	if err != nil {
		return nil, err
	}

	valid := filterValid(tracks, c.log)
	c.log.Info("catalog loaded",
		zap.String("url", url),
		zap.Int("tracks", len(valid)),
		zap.Int("skipped", len(tracks)-len(valid)))
	return valid, nil
}

func decodeListing(body []byte) ([]Track, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var empty struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &empty); err != nil {
			return nil, fmt.Errorf("failed to decode catalog: %w", err)
		}
		return []Track{}, nil
	}

	var tracks []Track
	if err := json.Unmarshal(body, &tracks); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return tracks, nil
}

// FileLister reads the listing from a local JSON or YAML file
type FileLister struct {
	Path   string
	Logger *zap.Logger
}

// List reads and validates the catalog file
func (f FileLister) List(ctx context.Context) ([]Track, error) {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var tracks []Track
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tracks); err != nil {
			return nil, fmt.Errorf("failed to decode catalog file: %w", err)
		}
	default:
		tracks, err = decodeListing(data)
		if err != nil {
			return nil, err
		}
	}

	valid := filterValid(tracks, log)
	log.Info("catalog file loaded", zap.String("path", f.Path), zap.Int("tracks", len(valid)))
	return valid, nil
}

// filterValid drops descriptors that violate the source invariant
func filterValid(tracks []Track, log *zap.Logger) []Track {
	valid := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if err := t.Validate(); err != nil {
			log.Warn("skipping catalog entry", zap.Error(err))
			continue
		}
		valid = append(valid, t)
	}
	return valid
}
