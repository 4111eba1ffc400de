// ABOUTME: Playback session owning one media element, its graph and stream client
// ABOUTME: Teardown stops the element, destroys the client, then releases the graph
package player

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/hls"
	"github.com/Resonate-Protocol/trackdeck/pkg/media"
	"github.com/Resonate-Protocol/trackdeck/pkg/source"
)

// Element is the media element a session drives. *media.Element implements it.
type Element interface {
	SetListener(l media.Listener)
	Connect(sink media.Sink) error
	CanPlayType(mime string) bool
	SetSource(url string)
	SetMediaSource(src media.Source)
	Play(ctx context.Context) error
	Pause()
	Seek(ctx context.Context, position time.Duration) error
	Stop()
}

// StreamingClient is the adaptive streaming client. *hls.Client implements it.
type StreamingClient interface {
	SetHandlers(h hls.Handlers)
	LoadSource(manifestURL string)
	AttachMedia(m hls.Media)
	StartLoad()
	RecoverMediaError()
	Levels() []hls.Level
	Destroy()
}

// session is the single live playback session
type session struct {
	id       uuid.UUID
	gen      uint64
	index    int
	track    catalog.Track
	resolved source.Resolved

	element Element
	graph   *graph.Graph
	adapter *adaptiveAdapter
}

// teardown releases the session's resources in order: network and decoder
// resources first, graph nodes last
func (s *session) teardown() {
	if s.element != nil {
		s.element.Stop()
	}
	if s.adapter != nil {
		s.adapter.release()
	}
	if s.graph != nil {
		s.graph.Release()
	}
}
