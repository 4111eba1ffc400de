// ABOUTME: Adaptive streaming adapter between a session and the HLS client
// ABOUTME: Maps level switches to quality labels and caps fatal error recovery
package player

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/trackdeck/pkg/hls"
)

// ErrAdaptiveUnsupported is returned when neither the streaming client nor
// the element can play a manifest
var ErrAdaptiveUnsupported = errors.New("adaptive streaming not supported")

const (
	manifestType  = "application/vnd.apple.mpegurl"
	nativeQuality = "auto (native)"
	recoveryLimit = 1
	networkClass  = "network"
	mediaClass    = "media"
)

// failure is the closed set of error classes reported by the client
type failure int

const (
	failureNonFatal failure = iota
	failureNetwork
	failureMedia
	failureOther
)

func classify(data hls.ErrorData) failure {
	if !data.Fatal {
		return failureNonFatal
	}
	switch data.Type {
	case hls.NetworkError:
		return failureNetwork
	case hls.MediaError:
		return failureMedia
	default:
		return failureOther
	}
}

type adapterConfig struct {
	supported func() bool
	newClient func() StreamingClient
	log       *zap.Logger
	metrics   *Metrics

	// onQuality receives the label of each level switch
	onQuality func(label string)

	// onTerminal is called on the client's goroutine when the track cannot
	// continue. It must not block on the client.
	onTerminal func(a *adaptiveAdapter, err error)
}

// adaptiveAdapter wraps one streaming client for one session
type adaptiveAdapter struct {
	client StreamingClient
	config adapterConfig
	log    *zap.Logger

	mu       sync.Mutex
	attempts map[failure]int
	failed   bool

	releaseOnce sync.Once
}

// attachAdaptive connects el to the manifest. It returns the initial quality
// label, which is empty until the client reports a level switch.
func attachAdaptive(el Element, manifestURL string, config adapterConfig) (*adaptiveAdapter, string, error) {
	a := &adaptiveAdapter{
		config:   config,
		log:      config.log.With(zap.String("manifest", manifestURL)),
		attempts: make(map[failure]int),
	}

	if !config.supported() {
		if !el.CanPlayType(manifestType) {
			return nil, "", fmt.Errorf("%s: %w", manifestURL, ErrAdaptiveUnsupported)
		}
		a.log.Info("playing manifest natively")
		el.SetSource(manifestURL)
		return a, nativeQuality, nil
	}

	a.client = config.newClient()
	a.client.SetHandlers(hls.Handlers{
		OnManifestParsed: a.manifestParsed,
		OnLevelSwitched:  a.levelSwitched,
		OnError:          a.handleError,
	})
	a.client.LoadSource(manifestURL)
	a.client.AttachMedia(el)
	return a, "", nil
}

func (a *adaptiveAdapter) manifestParsed(levels []hls.Level) {
	for _, l := range levels {
		a.log.Debug("level available",
			zap.Int("index", l.Index),
			zap.String("name", l.Name),
			zap.Int("bandwidth", l.Bandwidth))
	}
	a.log.Info("manifest parsed", zap.Int("levels", len(levels)))
}

func (a *adaptiveAdapter) levelSwitched(level hls.Level) {
	label := qualityLabel(level)
	a.log.Info("level switched", zap.Int("index", level.Index), zap.String("quality", label))
	if a.config.onQuality != nil {
		a.config.onQuality(label)
	}
}

// qualityLabel names a level by its name, else by its bitrate
func qualityLabel(level hls.Level) string {
	if level.Name != "" {
		return level.Name
	}
	return fmt.Sprintf("%dkbps", level.Bandwidth/1000)
}

func (a *adaptiveAdapter) handleError(data hls.ErrorData) {
	class := classify(data)
	if class == failureNonFatal {
		a.log.Debug("recoverable stream error", zap.String("details", data.Details), zap.Error(data.Err))
		return
	}

	a.mu.Lock()
	if a.failed {
		a.mu.Unlock()
		return
	}
	retry := class != failureOther && a.attempts[class] < recoveryLimit
	if retry {
		a.attempts[class]++
	} else {
		a.failed = true
	}
	a.mu.Unlock()

	if !retry {
		a.log.Error("fatal stream error", zap.String("type", string(data.Type)),
			zap.String("details", data.Details), zap.Error(data.Err))
		a.config.metrics.terminalFailure()
		if a.config.onTerminal != nil {
			a.config.onTerminal(a, data)
		}
		return
	}

	switch class {
	case failureNetwork:
		a.log.Warn("fatal network error, restarting load", zap.String("details", data.Details), zap.Error(data.Err))
		a.config.metrics.recovery(networkClass)
		a.client.StartLoad()
	case failureMedia:
		a.log.Warn("fatal media error, recovering", zap.String("details", data.Details), zap.Error(data.Err))
		a.config.metrics.recovery(mediaClass)
		a.client.RecoverMediaError()
	}
}

// release destroys the client. Safe to call more than once and from any
// goroutine other than the client's own.
func (a *adaptiveAdapter) release() {
	a.releaseOnce.Do(func() {
		if a.client != nil {
			a.client.Destroy()
		}
	})
}
