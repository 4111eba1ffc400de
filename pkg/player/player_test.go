// ABOUTME: Tests for the playback session manager and adaptive adapter
// ABOUTME: Drives fake elements and streaming clients over a real audio context
package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/output"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/hls"
	"github.com/Resonate-Protocol/trackdeck/pkg/media"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// harness records resource lifecycle events across fakes
type harness struct {
	t     *testing.T
	audio *graph.Context
	srv   *httptest.Server

	mu       sync.Mutex
	events   []string
	elements []*fakeElement
	clients  []*fakeClient

	nativeHLS bool
	playErr   error
	playHangs bool // Play waits for its context, like a manifest that never arrives
	hanging   int  // Play calls currently waiting
}

func (h *harness) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf("%s active=%d", event, h.audio.Stats().Active))
}

func (h *harness) eventLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *harness) element(i int) *fakeElement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.elements[i]
}

func (h *harness) client(i int) *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[i]
}

func (h *harness) count() (elements, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.elements), len(h.clients)
}

type fakeElement struct {
	h  *harness
	id int

	mu       sync.Mutex
	listener media.Listener
	sink     media.Sink
	src      string
	mediaSrc media.Source
	playing  bool
	stopped  bool
	seeks    []time.Duration
}

func (e *fakeElement) SetListener(l media.Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

func (e *fakeElement) Connect(sink media.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink != nil {
		return media.ErrAlreadyConnected
	}
	e.sink = sink
	return nil
}

func (e *fakeElement) CanPlayType(mime string) bool {
	return e.h.nativeHLS && mime == manifestType
}

func (e *fakeElement) SetSource(url string) {
	e.mu.Lock()
	e.src = url
	e.mu.Unlock()
}

func (e *fakeElement) SetMediaSource(src media.Source) {
	e.mu.Lock()
	e.mediaSrc = src
	e.mu.Unlock()
}

func (e *fakeElement) Play(ctx context.Context) error {
	e.h.mu.Lock()
	err, hangs := e.h.playErr, e.h.playHangs
	if hangs {
		e.h.hanging++
	}
	e.h.mu.Unlock()
	if hangs {
		<-ctx.Done()
		e.h.mu.Lock()
		e.h.hanging--
		e.h.mu.Unlock()
		return fmt.Errorf("source open canceled: %w", ctx.Err())
	}
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *fakeElement) Seek(ctx context.Context, pos time.Duration) error {
	e.mu.Lock()
	e.seeks = append(e.seeks, pos)
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Stop() {
	e.h.record(fmt.Sprintf("element%d.stop", e.id))
	e.mu.Lock()
	e.playing = false
	e.stopped = true
	e.mu.Unlock()
}

func (e *fakeElement) events() media.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

func (e *fakeElement) isPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeElement) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *fakeElement) seekLog() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.seeks...)
}

type fakeClient struct {
	h  *harness
	id int

	mu         sync.Mutex
	handlers   hls.Handlers
	manifest   string
	attached   hls.Media
	startLoads int
	recovers   int
	destroyed  int
}

func (c *fakeClient) SetHandlers(h hls.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *fakeClient) LoadSource(url string) {
	c.mu.Lock()
	c.manifest = url
	c.mu.Unlock()
}

func (c *fakeClient) AttachMedia(m hls.Media) {
	c.mu.Lock()
	c.attached = m
	c.mu.Unlock()
}

func (c *fakeClient) StartLoad() {
	c.mu.Lock()
	c.startLoads++
	c.mu.Unlock()
}

func (c *fakeClient) RecoverMediaError() {
	c.mu.Lock()
	c.recovers++
	c.mu.Unlock()
}

func (c *fakeClient) Levels() []hls.Level {
	return []hls.Level{{Index: 0, Bandwidth: 128000, Name: "low"}, {Index: 1, Bandwidth: 256000}}
}

func (c *fakeClient) Destroy() {
	c.h.record(fmt.Sprintf("client%d.destroy", c.id))
	c.mu.Lock()
	c.destroyed++
	c.mu.Unlock()
}

func (c *fakeClient) fire() hls.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *fakeClient) counts() (startLoads, recovers, destroyed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLoads, c.recovers, c.destroyed
}

func newHarness(t *testing.T, files map[string][]byte) *harness {
	t.Helper()
	h := &harness{t: t}
	h.audio = graph.NewContext(graph.Config{
		NewOutput: func() (output.Output, error) { return output.NewNull(), nil },
	})
	t.Cleanup(func() { h.audio.Close() })

	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) tracks() []catalog.Track {
	dur := 180.0
	return []catalog.Track{
		{ID: "a", Title: "A", FileURL: h.srv.URL + "/a.wav", Analysis: catalog.Analysis{DurationSec: &dur}},
		{ID: "b", Title: "B", HLSURL: h.srv.URL + "/b/index.m3u8"},
		{ID: "c", Title: "C", Formats: map[string]string{"low": h.srv.URL + "/c-low.mp3", "high": h.srv.URL + "/c-high.mp3"}},
		{ID: "d", Title: "D", HLSURL: h.srv.URL + "/d/index.m3u8"},
	}
}

func (h *harness) config() Config {
	return Config{
		Context:    h.audio,
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
		NewElement: func() Element {
			h.mu.Lock()
			defer h.mu.Unlock()
			e := &fakeElement{h: h, id: len(h.elements)}
			h.elements = append(h.elements, e)
			h.events = append(h.events, fmt.Sprintf("element%d.new active=%d", e.id, h.audio.Stats().Active))
			return e
		},
		NewStreamingClient: func() StreamingClient {
			h.mu.Lock()
			defer h.mu.Unlock()
			c := &fakeClient{h: h, id: len(h.clients)}
			h.clients = append(h.clients, c)
			return c
		},
		StreamingSupported: func() bool { return !h.nativeHLS },
	}
}

func newPlayer(t *testing.T, h *harness, mutate func(*Config)) *Player {
	t.Helper()
	cfg := h.config()
	if mutate != nil {
		mutate(&cfg)
	}
	p := New(cfg)
	p.SetTracks(h.tracks())
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSelectTrackStartsPlayback(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 0); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	st := p.State()
	if st.ActiveIndex != 0 || !st.Playing || st.Phase != PhasePlaying {
		t.Errorf("unexpected state: %+v", st)
	}
	if st.Quality != "original" {
		t.Errorf("expected quality original, got %q", st.Quality)
	}
	if st.Duration != 180 {
		t.Errorf("expected catalog duration 180, got %v", st.Duration)
	}
	if st.SessionID == "" {
		t.Error("expected a session id")
	}
	if h.audio.Suspended() {
		t.Error("expected audio context to be resumed")
	}
	if el := h.element(0); el.src != h.srv.URL+"/a.wav" || !el.isPlaying() {
		t.Errorf("element not playing the file URL: %q", el.src)
	}
}

func TestSelectSameIndexTogglesWithoutNewSession(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	id := p.State().SessionID

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	st := p.State()
	if st.Playing || st.Phase != PhasePaused {
		t.Errorf("expected paused, got %+v", st)
	}
	if st.SessionID != id {
		t.Error("session replaced on same-index selection")
	}

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if !p.State().Playing {
		t.Error("expected playing after second toggle")
	}

	if n, _ := h.count(); n != 1 {
		t.Errorf("expected 1 element, got %d", n)
	}
	if s := h.audio.Stats(); s.Acquired != 1 {
		t.Errorf("expected 1 graph acquired, got %d", s.Acquired)
	}
}

func TestSwitchFileToAdaptive(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SelectTrack(ctx, 1); err != nil {
		t.Fatalf("switch failed: %v", err)
	}

	if !h.element(0).isStopped() {
		t.Error("expected first element stopped")
	}
	if s := h.audio.Stats(); s.Acquired != 2 || s.Released != 1 || s.Active != 1 {
		t.Errorf("unexpected graph stats: %+v", s)
	}

	st := p.State()
	if st.ActiveIndex != 1 || !st.Playing {
		t.Errorf("expected track 1 playing, got %+v", st)
	}
	if st.Quality != "auto" {
		t.Errorf("expected auto before level switch, got %q", st.Quality)
	}

	c := h.client(0)
	if c.manifest != h.srv.URL+"/b/index.m3u8" {
		t.Errorf("unexpected manifest %q", c.manifest)
	}
	if c.attached != hls.Media(h.element(1)) {
		t.Error("client not attached to the new element")
	}

	c.fire().OnManifestParsed(c.Levels())
	c.fire().OnLevelSwitched(hls.Level{Index: 1, Bandwidth: 256000})
	if q := p.State().Quality; q != "256kbps" {
		t.Errorf("expected bitrate label, got %q", q)
	}
	c.fire().OnLevelSwitched(hls.Level{Index: 0, Bandwidth: 128000, Name: "low"})
	if q := p.State().Quality; q != "low" {
		t.Errorf("expected level name, got %q", q)
	}

	levels, err := p.Levels()
	if err != nil || len(levels) != 2 {
		t.Errorf("unexpected levels %v %v", levels, err)
	}
}

func TestTeardownOrder(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.SelectTrack(ctx, 2); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"element0.new active=0",
		"element0.stop active=1",
		"client0.destroy active=1",
		"element1.new active=0",
	}
	got := h.eventLog()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	st := p.State()
	if st.Quality != "high" {
		t.Errorf("expected preferred quality high, got %q", st.Quality)
	}
	if _, _, destroyed := h.client(0).counts(); destroyed != 1 {
		t.Errorf("expected client destroyed once, got %d", destroyed)
	}
}

func TestSelectTrackIndexOutOfRange(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	for _, idx := range []int{-1, 4} {
		if err := p.SelectTrack(context.Background(), idx); !errors.Is(err, ErrTrackIndex) {
			t.Errorf("index %d: expected ErrTrackIndex, got %v", idx, err)
		}
	}
	if p.State().ActiveIndex != -1 {
		t.Error("expected no active track")
	}
}

func TestTogglePlayPauseWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.TogglePlayPause(context.Background()); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
	if st := p.State(); st.Playing || st.Phase != PhaseIdle {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestPlayRejectedRevertsToPaused(t *testing.T) {
	h := newHarness(t, nil)
	h.playErr = errors.New("autoplay blocked")

	metrics, _ := NewMetrics(nil)
	var reported []error
	p := newPlayer(t, h, func(c *Config) {
		c.Metrics = metrics
		c.OnError = func(err error) { reported = append(reported, err) }
	})

	err := p.SelectTrack(context.Background(), 0)
	if err == nil || !errors.Is(err, h.playErr) {
		t.Fatalf("expected play error, got %v", err)
	}

	st := p.State()
	if st.Playing || st.Phase != PhasePaused || st.Error == "" {
		t.Errorf("expected paused with error, got %+v", st)
	}
	if len(reported) != 1 {
		t.Errorf("expected 1 reported error, got %d", len(reported))
	}
	if v := testutil.ToFloat64(metrics.startFailures); v != 1 {
		t.Errorf("expected 1 start failure, got %v", v)
	}

	// user retries
	h.mu.Lock()
	h.playErr = nil
	h.mu.Unlock()
	if err := p.TogglePlayPause(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if st := p.State(); !st.Playing || st.Error != "" {
		t.Errorf("expected playing after retry, got %+v", st)
	}
}

func TestReplayRejectedAfterEndRevertsToPaused(t *testing.T) {
	h := newHarness(t, nil)
	var reported []error
	p := newPlayer(t, h, func(c *Config) {
		c.OnError = func(err error) { reported = append(reported, err) }
	})
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	h.element(0).events().OnEnded()
	if p.State().Phase != PhaseEnded {
		t.Fatalf("expected ended, got %+v", p.State())
	}

	h.mu.Lock()
	h.playErr = errors.New("autoplay blocked")
	h.mu.Unlock()
	if err := p.TogglePlayPause(ctx); !errors.Is(err, h.playErr) {
		t.Fatalf("expected play error, got %v", err)
	}
	st := p.State()
	if st.Playing || st.Phase != PhasePaused || st.Error != "autoplay blocked" {
		t.Errorf("expected paused with error, got %+v", st)
	}
	if len(reported) != 1 {
		t.Errorf("expected 1 reported error, got %d", len(reported))
	}
}

func TestEndedCanPause(t *testing.T) {
	if !PhaseEnded.CanTransition(PhasePaused) {
		t.Error("ended must be able to revert to paused")
	}
	if PhaseErrored.CanTransition(PhasePaused) {
		t.Error("errored must only return to idle")
	}
}

// startHanging selects index with a Play that never completes on its own and
// waits until the player is loading it.
func startHanging(t *testing.T, h *harness, p *Player, index int) <-chan error {
	t.Helper()
	h.mu.Lock()
	h.playHangs = true
	h.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- p.SelectTrack(context.Background(), index) }()
	waitFor(t, "hanging start", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.hanging > 0
	})
	if st := p.State(); st.ActiveIndex != index || st.Phase != PhaseLoading {
		t.Fatalf("expected loading %d, got %+v", index, st)
	}

	h.mu.Lock()
	h.playHangs = false
	h.mu.Unlock()
	return errc
}

// within runs fn and fails when it does not return promptly
func within(t *testing.T, what string, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s blocked behind a pending start", what)
		return nil
	}
}

func TestSelectInterruptsHangingStart(t *testing.T) {
	h := newHarness(t, nil)
	var reported []error
	var mu sync.Mutex
	p := newPlayer(t, h, func(c *Config) {
		c.OnError = func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}
	})

	first := startHanging(t, h, p, 0)

	err := within(t, "select", func() error { return p.SelectTrack(context.Background(), 2) })
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := <-first; !errors.Is(err, ErrStartInterrupted) {
		t.Errorf("expected interrupted start, got %v", err)
	}

	st := p.State()
	if st.ActiveIndex != 2 || !st.Playing || st.Error != "" {
		t.Errorf("unexpected state %+v", st)
	}
	if !h.element(0).isStopped() || !h.element(1).isPlaying() {
		t.Error("expected first element torn down and second playing")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 0 {
		t.Errorf("interruption reported as error: %v", reported)
	}
}

func TestToggleInterruptsHangingStart(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	first := startHanging(t, h, p, 0)

	if err := within(t, "toggle", func() error { return p.TogglePlayPause(context.Background()) }); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := <-first; !errors.Is(err, ErrStartInterrupted) {
		t.Errorf("expected interrupted start, got %v", err)
	}
	st := p.State()
	if st.Playing || st.Phase != PhasePaused || st.Error != "" || st.ActiveIndex != 0 {
		t.Errorf("expected quiet pause, got %+v", st)
	}

	// the next toggle resumes normally
	if err := within(t, "toggle", func() error { return p.TogglePlayPause(context.Background()) }); err != nil {
		t.Fatal(err)
	}
	if !p.State().Playing {
		t.Error("expected playing after resume")
	}
}

func TestSameIndexSelectInterruptsHangingStart(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	first := startHanging(t, h, p, 0)
	id := p.State().SessionID

	if err := within(t, "select", func() error { return p.SelectTrack(context.Background(), 0) }); err != nil {
		t.Fatal(err)
	}
	<-first
	st := p.State()
	if st.Playing || st.Phase != PhasePaused || st.SessionID != id {
		t.Errorf("expected same session paused, got %+v", st)
	}
}

func TestScrubInterruptsHangingStart(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	first := startHanging(t, h, p, 0)

	if err := within(t, "scrub", func() error { return p.Scrub(context.Background(), 0.5) }); err != nil {
		t.Fatal(err)
	}
	<-first
	st := p.State()
	if st.CurrentTime != 90 || !st.Playing {
		t.Errorf("expected playing from 90, got %+v", st)
	}
}

func TestCloseInterruptsHangingStart(t *testing.T) {
	h := newHarness(t, nil)
	p := New(h.config())
	p.SetTracks(h.tracks())

	first := startHanging(t, h, p, 0)

	within(t, "close", func() error { p.Close(); return nil })
	<-first
	if !h.element(0).isStopped() {
		t.Error("expected element stopped on close")
	}
}

func TestBuildFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	// hold the only graph slot
	blocker, err := h.audio.NewGraph("other")
	if err != nil {
		t.Fatal(err)
	}

	err = p.SelectTrack(context.Background(), 0)
	if !errors.Is(err, graph.ErrGraphLimit) {
		t.Fatalf("expected ErrGraphLimit, got %v", err)
	}

	st := p.State()
	if st.ActiveIndex != -1 || st.Phase != PhaseErrored || st.Playing {
		t.Errorf("unexpected state %+v", st)
	}
	if p.Analyser() != nil {
		t.Error("expected no analyser")
	}
	if !h.element(0).isStopped() {
		t.Error("expected partial element stopped")
	}

	blocker.Release()
	if err := p.SelectTrack(context.Background(), 0); err != nil {
		t.Fatalf("expected recovery after release, got %v", err)
	}
}

func TestAdaptiveNativeFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.nativeHLS = true
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if q := p.State().Quality; q != "auto (native)" {
		t.Errorf("expected native label, got %q", q)
	}
	if src := h.element(0).src; src != h.srv.URL+"/b/index.m3u8" {
		t.Errorf("expected manifest as element source, got %q", src)
	}
	if _, n := h.count(); n != 0 {
		t.Errorf("expected no streaming client, got %d", n)
	}
	levels, err := p.Levels()
	if err != nil || levels != nil {
		t.Errorf("expected no levels for native playback, got %v %v", levels, err)
	}
}

func TestAdaptiveUnsupported(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, func(c *Config) {
		c.StreamingSupported = func() bool { return false }
	})

	err := p.SelectTrack(context.Background(), 1)
	if !errors.Is(err, ErrAdaptiveUnsupported) {
		t.Fatalf("expected ErrAdaptiveUnsupported, got %v", err)
	}
	if s := h.audio.Stats(); s.Active != 0 {
		t.Errorf("expected no live graph, got %+v", s)
	}
	if _, err := p.Levels(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestFatalNetworkErrorRecoversOnce(t *testing.T) {
	h := newHarness(t, nil)
	metrics, _ := NewMetrics(nil)
	p := newPlayer(t, h, func(c *Config) { c.Metrics = metrics })

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	c := h.client(0)

	c.fire().OnError(hls.ErrorData{Type: hls.NetworkError, Details: hls.FragLoadError, Fatal: true})
	if starts, _, destroyed := c.counts(); starts != 1 || destroyed != 0 {
		t.Fatalf("expected one StartLoad, got %d (destroyed %d)", starts, destroyed)
	}
	if st := p.State(); !st.Playing || st.ActiveIndex != 1 {
		t.Errorf("expected playback to continue, got %+v", st)
	}
	if v := testutil.ToFloat64(metrics.recoveries.WithLabelValues("network")); v != 1 {
		t.Errorf("expected 1 network recovery, got %v", v)
	}

	// a second failure of the same class ends the track
	c.fire().OnError(hls.ErrorData{Type: hls.NetworkError, Details: hls.FragLoadError, Fatal: true})
	waitFor(t, "session failure", func() bool { return p.State().Phase == PhaseErrored })

	st := p.State()
	if st.ActiveIndex != -1 || st.Playing || st.Error == "" {
		t.Errorf("unexpected state after terminal failure %+v", st)
	}
	if starts, _, destroyed := c.counts(); starts != 1 || destroyed != 1 {
		t.Errorf("expected 1 StartLoad and 1 Destroy, got %d %d", starts, destroyed)
	}
	if !h.element(0).isStopped() {
		t.Error("expected element stopped")
	}
	if s := h.audio.Stats(); s.Active != 0 {
		t.Errorf("expected graph released, got %+v", s)
	}
	if v := testutil.ToFloat64(metrics.terminalFailures); v != 1 {
		t.Errorf("expected 1 terminal failure, got %v", v)
	}

	// reselecting after a terminal failure builds a new session
	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, n := h.count(); n != 2 {
		t.Errorf("expected a second client, got %d", n)
	}
}

func TestFatalMediaErrorRecoversOnce(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	c := h.client(0)

	c.fire().OnError(hls.ErrorData{Type: hls.MediaError, Details: hls.FragParsingError, Fatal: true})
	if _, recovers, _ := c.counts(); recovers != 1 {
		t.Fatalf("expected one media recovery, got %d", recovers)
	}

	// a network failure still has its own attempt
	c.fire().OnError(hls.ErrorData{Type: hls.NetworkError, Details: hls.FragLoadError, Fatal: true})
	if starts, _, _ := c.counts(); starts != 1 {
		t.Fatalf("expected one StartLoad, got %d", starts)
	}
	if p.State().Phase != PhasePlaying {
		t.Error("expected playback to continue")
	}

	c.fire().OnError(hls.ErrorData{Type: hls.MediaError, Details: hls.FragParsingError, Fatal: true})
	waitFor(t, "session failure", func() bool { return p.State().Phase == PhaseErrored })
	if _, recovers, _ := c.counts(); recovers != 1 {
		t.Errorf("expected no second media recovery, got %d", recovers)
	}
}

func TestFatalOtherErrorIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	c := h.client(0)
	c.fire().OnError(hls.ErrorData{Type: hls.OtherError, Details: hls.ManifestParsingError, Fatal: true})

	waitFor(t, "session failure", func() bool { return p.State().Phase == PhaseErrored })
	if starts, recovers, destroyed := c.counts(); starts != 0 || recovers != 0 || destroyed != 1 {
		t.Errorf("expected destroy without recovery, got %d %d %d", starts, recovers, destroyed)
	}
}

func TestNonFatalErrorsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	c := h.client(0)
	for i := 0; i < 5; i++ {
		c.fire().OnError(hls.ErrorData{Type: hls.NetworkError, Details: hls.FragLoadError})
	}
	if starts, recovers, destroyed := c.counts(); starts+recovers+destroyed != 0 {
		t.Errorf("expected no recovery action, got %d %d %d", starts, recovers, destroyed)
	}
	if p.State().Phase != PhasePlaying {
		t.Error("expected playback to continue")
	}
}

func TestTerminalFailureOfOldSessionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 1); err != nil {
		t.Fatal(err)
	}
	old := h.client(0).fire()
	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}

	old.OnError(hls.ErrorData{Type: hls.OtherError, Fatal: true})
	old.OnLevelSwitched(hls.Level{Name: "stale"})

	// the stale failure must leave the new session alone
	if err := p.TogglePlayPause(ctx); err != nil {
		t.Fatal(err)
	}
	st := p.State()
	if st.ActiveIndex != 0 || st.Phase != PhasePaused || st.Quality != "original" {
		t.Errorf("stale events changed the active session: %+v", st)
	}
}

func TestElementEvents(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if d := p.State().Duration; d != 0 {
		t.Errorf("expected unknown duration, got %v", d)
	}

	l := h.element(0).events()
	l.OnLoadedMetadata(200 * time.Second)
	l.OnTimeUpdate(12500 * time.Millisecond)

	st := p.State()
	if st.Duration != 200 || st.CurrentTime != 12.5 {
		t.Errorf("unexpected times %+v", st)
	}

	l.OnEnded()
	st = p.State()
	if st.Playing || st.Phase != PhaseEnded || st.CurrentTime != 0 {
		t.Errorf("expected ended at 0, got %+v", st)
	}

	if err := p.TogglePlayPause(ctx); err != nil {
		t.Fatal(err)
	}
	if st := p.State(); !st.Playing || st.Phase != PhasePlaying {
		t.Errorf("expected replay, got %+v", st)
	}

	l.OnError(errors.New("corrupt frame"))
	st = p.State()
	if st.Playing || st.Phase != PhaseErrored || st.Error != "corrupt frame" {
		t.Errorf("expected errored, got %+v", st)
	}

	// toggling an errored session is ignored; reselecting rebuilds it
	if err := p.TogglePlayPause(ctx); err != nil {
		t.Fatal(err)
	}
	if p.State().Phase != PhaseErrored {
		t.Error("toggle changed errored session")
	}
	if err := p.SelectTrack(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if n, _ := h.count(); n != 2 {
		t.Errorf("expected rebuilt session, got %d elements", n)
	}
}

func TestStaleElementEventsDropped(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	old := h.element(0).events()
	if err := p.SelectTrack(ctx, 2); err != nil {
		t.Fatal(err)
	}

	old.OnTimeUpdate(50 * time.Second)
	old.OnLoadedMetadata(999 * time.Second)
	old.OnEnded()
	old.OnError(errors.New("late"))

	st := p.State()
	if st.CurrentTime != 0 || st.Duration != 0 || st.Phase != PhasePlaying {
		t.Errorf("stale events leaked into state: %+v", st)
	}
}

func TestScrubClamps(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ratio float64
		want  float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.5, 90},
		{1, 180},
		{1.4, 180},
	}
	for _, tt := range tests {
		if err := p.Scrub(ctx, tt.ratio); err != nil {
			t.Fatalf("scrub %v: %v", tt.ratio, err)
		}
		if got := p.State().CurrentTime; got != tt.want {
			t.Errorf("scrub %v: expected %v, got %v", tt.ratio, tt.want, got)
		}
	}

	seeks := h.element(0).seekLog()
	want := []time.Duration{0, 0, 90 * time.Second, 180 * time.Second, 180 * time.Second}
	if len(seeks) != len(want) {
		t.Fatalf("expected %d seeks, got %v", len(want), seeks)
	}
	for i := range want {
		if seeks[i] != want[i] {
			t.Errorf("seek %d: expected %v, got %v", i, want[i], seeks[i])
		}
	}
}

func TestScrubIndependentOfPlayState(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.TogglePlayPause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Scrub(ctx, 0.25); err != nil {
		t.Fatal(err)
	}
	st := p.State()
	if st.CurrentTime != 45 || st.Playing {
		t.Errorf("expected paused at 45, got %+v", st)
	}
}

func TestScrubNoOps(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if err := p.Scrub(ctx, 0.5); err != nil {
		t.Errorf("expected no-op without session, got %v", err)
	}

	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	h.element(0).events().OnError(errors.New("decode failure"))
	if err := p.Scrub(ctx, 0.5); err != nil {
		t.Fatal(err)
	}
	if n := len(h.element(0).seekLog()); n != 0 {
		t.Errorf("expected no seek while errored, got %d", n)
	}
}

func TestWaveformFailureDoesNotBlockPlayback(t *testing.T) {
	h := newHarness(t, nil)
	metrics, _ := NewMetrics(nil)
	p := newPlayer(t, h, func(c *Config) { c.Metrics = metrics })

	if err := p.SelectTrack(context.Background(), 0); err != nil {
		t.Fatalf("playback blocked by waveform: %v", err)
	}
	waitFor(t, "waveform failure", func() bool {
		return testutil.ToFloat64(metrics.waveformFailures) == 1
	})

	if p.Waveform() != nil {
		t.Error("expected no waveform profile")
	}
	if st := p.State(); !st.Playing || st.Error != "" {
		t.Errorf("waveform failure surfaced in state: %+v", st)
	}
}

func TestWaveformDelivered(t *testing.T) {
	files := map[string][]byte{"/a.wav": testWAV(t)}
	h := newHarness(t, files)

	ready := make(chan *waveform.Profile, 1)
	p := newPlayer(t, h, func(c *Config) {
		c.WaveformBins = 64
		c.OnWaveform = func(prof *waveform.Profile) { ready <- prof }
	})

	if err := p.SelectTrack(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	select {
	case prof := <-ready:
		if prof.BinCount != 64 || prof.SourceURL != h.srv.URL+"/a.wav" {
			t.Errorf("unexpected profile %+v", prof)
		}
		if p.Waveform() != prof {
			t.Error("expected profile stored for the active track")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for waveform")
	}
}

func TestManifestOnlyTrackHasNoWaveform(t *testing.T) {
	h := newHarness(t, nil)
	metrics, _ := NewMetrics(nil)
	p := newPlayer(t, h, func(c *Config) { c.Metrics = metrics })

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if v := testutil.ToFloat64(metrics.waveformFailures) + testutil.ToFloat64(metrics.waveformsComputed); v != 0 {
		t.Errorf("expected no waveform work, got %v", v)
	}
}

type staticArtwork struct{}

func (staticArtwork) Fetch(ctx context.Context, url string) (string, error) {
	return "/covers/" + filepath.Base(url), nil
}

func TestCoverArtFetched(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, func(c *Config) { c.Artwork = staticArtwork{} })
	tracks := h.tracks()
	tracks[0].ImageURL = h.srv.URL + "/a.jpg"
	p.SetTracks(tracks)

	if err := p.SelectTrack(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "cover art", func() bool { return p.State().CoverArt == "/covers/a.jpg" })
}

func TestCloseReleasesSession(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)

	if err := p.SelectTrack(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	p.Close()
	p.Close()

	if s := h.audio.Stats(); s.Active != 0 || s.Released != 1 {
		t.Errorf("expected released graph, got %+v", s)
	}
	if _, _, destroyed := h.client(0).counts(); destroyed != 1 {
		t.Errorf("expected client destroyed once, got %d", destroyed)
	}
	if err := p.SelectTrack(context.Background(), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseLoading, true},
		{PhaseLoading, PhasePlaying, true},
		{PhasePlaying, PhasePaused, true},
		{PhasePlaying, PhaseEnded, true},
		{PhaseEnded, PhasePlaying, true},
		{PhaseErrored, PhasePlaying, false},
		{PhaseErrored, PhaseIdle, true},
		{PhaseIdle, PhasePlaying, false},
		{PhasePaused, PhaseEnded, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
	if PhaseErrored.Seekable() || PhaseIdle.Seekable() || !PhasePaused.Seekable() {
		t.Error("unexpected seekable phases")
	}
}

func TestPhaseText(t *testing.T) {
	for phase, name := range phaseNames {
		text, _ := phase.MarshalText()
		if string(text) != name {
			t.Errorf("expected %q, got %q", name, text)
		}
		var back Phase
		if err := back.UnmarshalText(text); err != nil || back != phase {
			t.Errorf("round trip of %s gave %s (%v)", phase, back, err)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("buffering")); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	const rate = 22050
	data := make([]int, rate/2)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
