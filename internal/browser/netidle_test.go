package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestRequestTracker_IdleTransitions(t *testing.T) {
	tracker := newRequestTracker()
	tracker.lastActivity = time.Now().Add(-time.Second)

	if !tracker.quietFor(500 * time.Millisecond) {
		t.Error("fresh tracker with stale activity should be quiet")
	}

	tracker.observe(&network.EventRequestWillBeSent{RequestID: "r1"})
	if tracker.quietFor(0) {
		t.Error("tracker with in-flight request reported quiet")
	}

	tracker.observe(&network.EventLoadingFinished{RequestID: "r1"})
	if tracker.quietFor(time.Second) {
		t.Error("tracker quiet immediately after activity, window not honored")
	}

	tracker.lastActivity = time.Now().Add(-2 * time.Second)
	if !tracker.quietFor(time.Second) {
		t.Error("tracker not quiet after window elapsed with nothing in flight")
	}
}

func TestRequestTracker_FailedRequestsSettle(t *testing.T) {
	tracker := newRequestTracker()
	tracker.observe(&network.EventRequestWillBeSent{RequestID: "r1"})
	tracker.observe(&network.EventRequestWillBeSent{RequestID: "r2"})
	tracker.observe(&network.EventLoadingFailed{RequestID: "r1"})
	tracker.observe(&network.EventLoadingFinished{RequestID: "r2"})

	tracker.lastActivity = time.Now().Add(-time.Second)
	if !tracker.quietFor(500 * time.Millisecond) {
		t.Error("failed requests should count as settled")
	}
}

func TestRequestTracker_AwaitIdleTimesOut(t *testing.T) {
	tracker := newRequestTracker()
	tracker.observe(&network.EventRequestWillBeSent{RequestID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if tracker.awaitIdle(ctx, 50*time.Millisecond) {
		t.Error("awaitIdle reported idle with a request permanently in flight")
	}
}

func TestCookieDomain(t *testing.T) {
	if got := cookieDomain("https://shop.example.com/products?page=1"); got != "shop.example.com" {
		t.Errorf("cookieDomain() = %q", got)
	}
	if got := cookieDomain("://bad"); got != "" {
		t.Errorf("cookieDomain() on invalid URL = %q, want empty", got)
	}
}

func TestRandomUserAgent(t *testing.T) {
	for i := 0; i < 10; i++ {
		if randomUserAgent() == "" {
			t.Fatal("randomUserAgent returned empty string")
		}
	}
}
