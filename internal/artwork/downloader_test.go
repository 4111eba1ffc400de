// ABOUTME: Tests for the artwork downloader
// ABOUTME: Covers caching, request sharing, extensions and HTTP failures
package artwork

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coverURL = "http://catalog.test/media/cover.png"

func newMocked(t *testing.T) *Downloader {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	dl, err := NewDownloader(Config{Dir: filepath.Join(t.TempDir(), "art"), HTTPClient: client, UserAgent: "trackdeck-test"})
	require.NoError(t, err)
	return dl
}

func TestFetchCachesByURL(t *testing.T) {
	dl := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, coverURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "trackdeck-test", req.Header.Get("User-Agent"))
		return httpmock.NewStringResponse(http.StatusOK, "png bytes"), nil
	})

	first, err := dl.Fetch(context.Background(), coverURL)
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(first))
	assert.True(t, strings.HasPrefix(first, dl.dir))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	second, err := dl.Fetch(context.Background(), coverURL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestFetchDistinctURLs(t *testing.T) {
	dl := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, "http://catalog.test/a.jpg", httpmock.NewStringResponder(http.StatusOK, "a"))
	httpmock.RegisterResponder(http.MethodGet, "http://catalog.test/b.jpg", httpmock.NewStringResponder(http.StatusOK, "b"))

	a, err := dl.Fetch(context.Background(), "http://catalog.test/a.jpg")
	require.NoError(t, err)
	b, err := dl.Fetch(context.Background(), "http://catalog.test/b.jpg")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConcurrentFetchesShareRequest(t *testing.T) {
	dl := newMocked(t)
	release := make(chan struct{})
	httpmock.RegisterResponder(http.MethodGet, coverURL, func(*http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, "cover"), nil
	})

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := dl.Fetch(context.Background(), coverURL)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCanceledWaiterLeavesSharedDownload(t *testing.T) {
	dl := newMocked(t)
	release := make(chan struct{})
	httpmock.RegisterResponder(http.MethodGet, coverURL, func(*http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, "cover"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := dl.Fetch(ctx, coverURL)
		first <- err
	}()

	second := make(chan string, 1)
	go func() {
		p, err := dl.Fetch(context.Background(), coverURL)
		assert.NoError(t, err)
		second <- p
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	p := <-second
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "cover", string(data))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestFetchHTTPError(t *testing.T) {
	dl := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, coverURL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := dl.Fetch(context.Background(), coverURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	entries, err := os.ReadDir(dl.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchEmptyAndInvalid(t *testing.T) {
	dl := newMocked(t)

	p, err := dl.Fetch(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, p)

	_, err = dl.Fetch(context.Background(), "not-a-valid-url")
	assert.Error(t, err)
}

func TestFetchCanceled(t *testing.T) {
	dl, err := NewDownloader(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dl.Fetch(ctx, "http://127.0.0.1:1/x.jpg")
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	cases := []struct {
		url, contentType, want string
	}{
		{"http://x/image.jpg", "", ".jpg"},
		{"http://x/image.PNG", "", ".png"},
		{"http://x/image.webp?size=large", "", ".webp"},
		{"http://x/path/to/image.jpeg", "", ".jpeg"},
		{"http://x/cover", "image/png", ".png"},
		{"http://x/cover", "image/gif; charset=binary", ".gif"},
		{"http://x/cover.php", "", ".jpg"},
		{"http://x/cover", "text/html", ".jpg"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, extension(c.url, c.contentType), c.url)
	}
}

func TestDefaultDirAndCleanup(t *testing.T) {
	dl, err := NewDownloader(Config{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dl.dir, os.TempDir()))
	assert.Contains(t, dl.dir, "trackdeck-artwork")

	custom, err := NewDownloader(Config{Dir: filepath.Join(t.TempDir(), "art")})
	require.NoError(t, err)
	require.DirExists(t, custom.dir)
	require.NoError(t, custom.Cleanup())
	assert.NoDirExists(t, custom.dir)
}
