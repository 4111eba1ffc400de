// ABOUTME: Lazily created process-wide audio context
// ABOUTME: Closed only by the application at shutdown
package graph

import "sync"

var (
	sharedMu     sync.Mutex
	shared       *Context
	sharedConfig Config
)

// Configure sets the configuration used when the shared context is created.
// It has no effect once the shared context exists.
func Configure(config Config) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedConfig = config
}

// Shared returns the process-wide context, creating it suspended on first use
func Shared() *Context {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewContext(sharedConfig)
	}
	return shared
}

// CloseShared closes the process-wide context. A later Shared call creates a
// new one.
func CloseShared() error {
	sharedMu.Lock()
	c := shared
	shared = nil
	sharedMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}
