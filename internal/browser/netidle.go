package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// requestTracker follows the tab's in-flight network requests so callers can
// wait for the connection to go quiet. It is fed from the session's CDP event
// listener and read concurrently by WaitNetworkIdle.
type requestTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// observe folds one CDP event into the tracker. Events it does not care
// about are ignored.
func (t *requestTracker) observe(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		t.inflight[e.RequestID] = struct{}{}
		t.lastActivity = time.Now()
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	}
}

func (t *requestTracker) finish(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// quietFor reports whether no request is in flight and no network activity
// has been observed for at least the given window.
func (t *requestTracker) quietFor(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && time.Since(t.lastActivity) >= window
}

// awaitIdle blocks until the tracker has been quiet for the given window or
// the context expires. A timeout is not an error: pages with long-polling
// never go idle and the caller proceeds with whatever has loaded.
func (t *requestTracker) awaitIdle(ctx context.Context, window time.Duration) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if t.quietFor(window) {
				return true
			}
		}
	}
}
