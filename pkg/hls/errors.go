// ABOUTME: Error taxonomy reported by the HLS client
// ABOUTME: Network, media and other errors, each fatal or recoverable
package hls

import (
	"errors"
	"fmt"
)

// ErrorType classifies client errors
type ErrorType string

const (
	NetworkError ErrorType = "networkError"
	MediaError   ErrorType = "mediaError"
	OtherError   ErrorType = "otherError"
)

// Error details
const (
	ManifestLoadError    = "manifestLoadError"
	ManifestParsingError = "manifestParsingError"
	LevelLoadError       = "levelLoadError"
	FragLoadError        = "fragLoadError"
	FragParsingError     = "fragParsingError"
)

// ErrDestroyed is returned by a destroyed client
var ErrDestroyed = errors.New("hls client destroyed")

// ErrorData describes an error event
type ErrorData struct {
	Type    ErrorType
	Details string
	Fatal   bool
	Err     error
}

func (e ErrorData) Error() string {
	kind := "recoverable"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", kind, e.Type, e.Details)
	}
	return fmt.Sprintf("%s %s: %s: %v", kind, e.Type, e.Details, e.Err)
}

func (e ErrorData) Unwrap() error { return e.Err }
