// ABOUTME: Audio library scanned from a directory and served as a catalog API
// ABOUTME: Groups quality variants, manifests and cover images by file stem
package library

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/decode"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"go.uber.org/zap"
)

// MediaPath is the URL prefix files are served under
const MediaPath = "/media/"

var (
	audioExts    = map[string]bool{".mp3": true, ".flac": true, ".wav": true, ".opus": true, ".ogg": true}
	imageExts    = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}
	qualityNames = map[string]bool{"low": true, "medium": true, "high": true}
)

// Config holds library configuration
type Config struct {
	Dir    string
	Logger *zap.Logger
}

// Library is a scanned directory of tracks
type Library struct {
	config Config
	log    *zap.Logger

	mu     sync.RWMutex
	tracks []catalog.Track // URLs are paths relative to Dir
}

// New creates an empty library; call Scan to populate it
func New(config Config) *Library {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Library{config: config, log: config.Logger}
}

// group collects the files sharing one stem
type group struct {
	stem     string
	file     string
	formats  map[string]string
	manifest string
	image    string
}

// Scan walks the directory and rebuilds the track list. A file named
// "name.ext" is the plain source, "name.low.ext" a quality variant,
// "name.m3u8" a manifest and "name.jpg" the cover.
func (l *Library) Scan() error {
	groups := make(map[string]*group)
	get := func(stem string) *group {
		g, ok := groups[stem]
		if !ok {
			g = &group{stem: stem, formats: make(map[string]string)}
			groups[stem] = g
		}
		return g
	}

	err := filepath.WalkDir(l.config.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(l.config.Dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ext := strings.ToLower(path.Ext(rel))
		stem := strings.TrimSuffix(rel, path.Ext(rel))
		switch {
		case ext == ".m3u8":
			get(stem).manifest = rel
		case imageExts[ext]:
			get(stem).image = rel
		case audioExts[ext]:
			if q := strings.TrimPrefix(path.Ext(stem), "."); qualityNames[q] {
				get(strings.TrimSuffix(stem, "."+q)).formats[q] = rel
			} else {
				get(stem).file = rel
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", l.config.Dir, err)
	}

	stems := make([]string, 0, len(groups))
	for stem, g := range groups {
		if g.file != "" || g.manifest != "" || len(g.formats) > 0 {
			stems = append(stems, stem)
		}
	}
	sort.Strings(stems)

	tracks := make([]catalog.Track, 0, len(stems))
	for i, stem := range stems {
		tracks = append(tracks, l.buildTrack(i+1, groups[stem]))
	}

	l.mu.Lock()
	l.tracks = tracks
	l.mu.Unlock()

	l.log.Info("library scanned", zap.String("dir", l.config.Dir), zap.Int("tracks", len(tracks)))
	return nil
}

func (l *Library) buildTrack(id int, g *group) catalog.Track {
	artist, title := splitName(path.Base(g.stem))
	t := catalog.Track{
		ID:       catalog.TrackID(strconv.Itoa(id)),
		Title:    title,
		Artist:   artist,
		FileURL:  g.file,
		HLSURL:   g.manifest,
		ImageURL: g.image,
	}
	if len(g.formats) > 0 {
		t.Formats = g.formats
	}

	probe := g.file
	if probe == "" {
		for _, q := range []string{"high", "medium", "low"} {
			if f, ok := g.formats[q]; ok {
				probe = f
				break
			}
		}
	}
	if probe != "" {
		if d, err := l.probeDuration(probe); err != nil {
			l.log.Debug("duration unavailable", zap.String("file", probe), zap.Error(err))
		} else if d > 0 {
			t.DurationSec = &d
		}
	}
	return t
}

// probeDuration reads the container header for the duration in seconds
func (l *Library) probeDuration(rel string) (float64, error) {
	f, err := os.Open(filepath.Join(l.config.Dir, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	s, err := decode.Open(f)
	if err != nil {
		f.Close()
		return 0, err
	}
	defer s.Close()
	return s.Duration().Seconds(), nil
}

// splitName parses "Artist - Title" file stems
func splitName(stem string) (artist, title string) {
	stem = strings.ReplaceAll(stem, "_", " ")
	if a, t, ok := strings.Cut(stem, " - "); ok {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", strings.TrimSpace(stem)
}

// Tracks returns the listing with URLs resolved against base
func (l *Library) Tracks(base string) []catalog.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	resolve := func(rel string) string {
		if rel == "" {
			return ""
		}
		return strings.TrimRight(base, "/") + MediaPath + (&url.URL{Path: rel}).EscapedPath()
	}

	out := make([]catalog.Track, len(l.tracks))
	for i, t := range l.tracks {
		t.FileURL = resolve(t.FileURL)
		t.HLSURL = resolve(t.HLSURL)
		t.ImageURL = resolve(t.ImageURL)
		if t.Formats != nil {
			formats := make(map[string]string, len(t.Formats))
			for q, rel := range t.Formats {
				formats[q] = resolve(rel)
			}
			t.Formats = formats
		}
		out[i] = t
	}
	return out
}

// Handler serves the listing endpoint and the media files
func (l *Library) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(catalog.ListPath, l.handleList)
	mux.Handle(MediaPath, http.StripPrefix(MediaPath, http.FileServer(http.Dir(l.config.Dir))))
	return mux
}

// handleList mirrors the catalog API: an array of tracks, or a message
// object when the library is empty
func (l *Library) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	tracks := l.Tracks(scheme + "://" + r.Host)

	w.Header().Set("Content-Type", "application/json")
	var body any = tracks
	if len(tracks) == 0 {
		body = map[string]string{"message": "No audio files found"}
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		l.log.Warn("failed to write listing", zap.Error(err))
	}
}
