// ABOUTME: Segment loader writing packed MP3 segments into the element pipe
// ABOUTME: Retries failed loads, stalls on fatal errors until recovery is requested
package hls

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/decode"
	"go.uber.org/zap"
)

// runLoader streams segments into pw starting at the media time position.
// The first segment comes from firstLevel at firstIndex; later segments are
// looked up by time in whichever level is chosen, so levels may have
// different segment boundaries.
func (c *Client) runLoader(ctx context.Context, position time.Duration, firstLevel, firstIndex int, pw *io.PipeWriter) {
	stop := context.AfterFunc(ctx, func() {
		pw.CloseWithError(errClientDestroyed)
	})
	defer stop()

	first := true
	level, index := firstLevel, firstIndex
	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		renditions := c.renditions
		c.mu.Unlock()

		if level < 0 || level >= len(renditions) {
			level = c.chooseLevel(renditions)
			index = renditions[level].segmentFrom(position)
		}
		if index >= len(renditions[level].segments) {
			pw.Close()
			return
		}
		chosen := renditions[level]
		seg := chosen.segments[index]
		next := seg.Start + seg.Duration
		// the next iteration picks its own level
		level = -1

		data, err := c.loadSegment(ctx, seg)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.raiseFatal(ErrorData{Type: NetworkError, Details: FragLoadError, Fatal: true, Err: err})
			switch c.stall(ctx) {
			case actionSkip:
				position = next
			case actionNone:
				return
			}
			continue
		}

		codec, err := decode.Sniff(data)
		if err == nil && codec != decode.CodecMP3 {
			err = fmt.Errorf("segment codec %s: %w", codec, decode.ErrUnsupportedFormat)
		}
		if err != nil {
			c.raiseFatal(ErrorData{Type: MediaError, Details: FragParsingError, Fatal: true, Err: err})
			switch c.stall(ctx) {
			case actionSkip:
				position = next
			case actionNone:
				return
			}
			continue
		}

		c.switched(chosen.Level)

		if !first {
			data = stripID3(data)
		}
		first = false
		if _, err := pw.Write(data); err != nil {
			return
		}
		position = next
	}
}

// chooseLevel picks the level for the next segment
func (c *Client) chooseLevel(renditions []rendition) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.forceLowest {
		c.forceLowest = false
		return 0
	}
	if c.manual >= 0 && c.manual < len(renditions) {
		return c.manual
	}
	levels := make([]Level, len(renditions))
	for i, r := range renditions {
		levels[i] = r.Level
	}
	return selectLevel(levels, c.bandwidth.get(), c.config.BandwidthFactor)
}

// switched records the delivered level and reports changes
func (c *Client) switched(level Level) {
	c.mu.Lock()
	changed := c.current != level.Index
	c.current = level.Index
	handler := c.handlers.OnLevelSwitched
	c.mu.Unlock()

	if changed {
		c.log.Debug("level switched", zap.Int("level", level.Index), zap.Int("bandwidth", level.Bandwidth))
		if handler != nil {
			handler(level)
		}
	}
}

// loadSegment fetches a segment, retrying with recoverable error events
func (c *Client) loadSegment(ctx context.Context, seg segment) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.FragLoadingMaxRetry; attempt++ {
		if attempt > 0 {
			c.emitError(ErrorData{Type: NetworkError, Details: FragLoadError, Err: lastErr})
			t := time.NewTimer(c.config.RetryDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		data, err := fetch(ctx, c.config.HTTPClient, seg.URL)
		if err == nil {
			c.bandwidth.sample(len(data), time.Since(start))
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("segment %s failed after %d retries: %w", seg.URL, c.config.FragLoadingMaxRetry, lastErr)
}

// raiseFatal reports a fatal loader error. Recovery requested from inside
// the handler is kept for the following stall.
func (c *Client) raiseFatal(data ErrorData) {
	c.mu.Lock()
	c.awaiting = true
	c.mu.Unlock()
	c.emitError(data)
}

// stall blocks until StartLoad or RecoverMediaError, or the loader stops
func (c *Client) stall(ctx context.Context) recoveryAction {
	c.mu.Lock()
	if c.pending != actionNone {
		// recovery was requested while the error handler ran
		action := c.pending
		c.pending = actionNone
		c.awaiting = false
		c.mu.Unlock()
		return action
	}
	c.stalled = true
	resume := c.resume
	c.mu.Unlock()

	select {
	case <-resume:
	case <-ctx.Done():
		return actionNone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	action := c.pending
	c.pending = actionNone
	c.awaiting = false
	if action == actionNone {
		action = actionRetry
	}
	return action
}

// stripID3 drops a leading ID3v2 tag so concatenated segments stay a valid
// MPEG audio stream
func stripID3(data []byte) []byte {
	if len(data) < 10 || string(data[:3]) != "ID3" {
		return data
	}
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	end := 10 + size
	if data[5]&0x10 != 0 {
		end += 10
	}
	if end > len(data) {
		return data[:0]
	}
	return data[end:]
}
