// Package browser drives headless Chrome sessions over the DevTools
// protocol: one session per task attempt, configured from the task's browser
// section and optionally routed through a proxy endpoint.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/proxy"
	"github.com/fetchlab/harvester/internal/taskconfig"
)

// networkIdleWindow is how long the connection must stay quiet before a
// network wait condition is considered satisfied.
const networkIdleWindow = 500 * time.Millisecond

// blockedResourceTypes are failed at the fetch layer when image loading is
// disabled. Skipping these cuts most of a page's transfer volume.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeMedia:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeStylesheet: true,
}

// Session is a live browser tab bound to one task attempt. It is not safe
// for concurrent use; the orchestrator drives it from a single goroutine.
type Session struct {
	cfg   *taskconfig.TaskConfig
	proxy *proxy.Endpoint
	log   zerolog.Logger

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context
	tracker     *requestTracker

	closeOnce sync.Once
}

// NewSession launches a browser configured for the task and returns once the
// tab is ready to navigate. The caller must Close the session, including on
// error paths after a successful return.
func NewSession(ctx context.Context, cfg *taskconfig.TaskConfig, ep *proxy.Endpoint, log zerolog.Logger) (*Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight),
	)

	userAgent := cfg.Browser.UserAgent
	if userAgent == "" {
		userAgent = randomUserAgent()
	}
	opts = append(opts, chromedp.UserAgent(userAgent))

	if ep != nil {
		opts = append(opts, chromedp.ProxyServer(ep.ServerURL()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		proxy:       ep,
		log:         log.With().Str("component", "browser").Logger(),
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tabCtx:      tabCtx,
		tracker:     newRequestTracker(),
	}

	interceptRequests := ep != nil && ep.Username != "" || !cfg.Browser.LoadImages
	s.listen(interceptRequests)

	if err := chromedp.Run(tabCtx, s.initActions(interceptRequests)...); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser initialization failed: %w", err)
	}

	s.log.Debug().
		Str("user_agent", userAgent).
		Bool("headless", cfg.Browser.Headless).
		Msg("browser session started")
	return s, nil
}

// listen installs the CDP event handler feeding the network tracker and,
// when interception is on, answering paused requests and proxy auth
// challenges.
func (s *Session) listen(intercept bool) {
	chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
		s.tracker.observe(ev)
		if !intercept {
			return
		}
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go s.handlePaused(e)
		case *fetch.EventAuthRequired:
			go s.handleAuth(e)
		}
	})
}

func (s *Session) execCtx() context.Context {
	return cdp.WithExecutor(s.tabCtx, chromedp.FromContext(s.tabCtx).Target)
}

func (s *Session) handlePaused(ev *fetch.EventRequestPaused) {
	ctx := s.execCtx()
	if !s.cfg.Browser.LoadImages && blockedResourceTypes[ev.ResourceType] {
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx); err != nil {
			s.log.Debug().Err(err).Msg("failed to block request")
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(ctx); err != nil {
		s.log.Debug().Err(err).Msg("failed to continue request")
	}
}

func (s *Session) handleAuth(ev *fetch.EventAuthRequired) {
	ctx := s.execCtx()
	resp := &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseCancelAuth,
	}
	if s.proxy != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: s.proxy.Username,
			Password: s.proxy.Password,
		}
	}
	if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(ctx); err != nil {
		s.log.Debug().Err(err).Msg("failed to answer auth challenge")
	}
}

// initActions builds the one-time tab setup: viewport, script toggles,
// stealth shims, interception, headers, and cookies.
func (s *Session) initActions(intercept bool) []chromedp.Action {
	cfg := s.cfg
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(int64(cfg.Browser.ViewportWidth), int64(cfg.Browser.ViewportHeight)),
	}

	if intercept {
		actions = append(actions, fetch.Enable().
			WithHandleAuthRequests(true).
			WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}))
	}

	if !cfg.Browser.JavaScriptEnabled {
		actions = append(actions, emulation.SetScriptExecutionDisabled(true))
	} else {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}))
	}

	if len(cfg.CustomHeaders) > 0 {
		headers := make(network.Headers, len(cfg.CustomHeaders))
		for k, v := range cfg.CustomHeaders {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}

	if len(cfg.Cookies) > 0 {
		if domain := cookieDomain(cfg.URL); domain != "" {
			params := make([]*network.CookieParam, 0, len(cfg.Cookies))
			for name, value := range cfg.Cookies {
				params = append(params, &network.CookieParam{
					Name:   name,
					Value:  value,
					Domain: domain,
					Path:   "/",
				})
			}
			actions = append(actions, storage.SetCookies(params))
		}
	}

	return actions
}

func cookieDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Navigate loads the given URL, waits for the DOM to be ready, applies the
// task's wait conditions, and finally pauses briefly to mimic a human
// reading pace.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	timeout := time.Duration(s.cfg.Browser.Timeout) * time.Millisecond
	runCtx, release := s.runCtx(ctx)
	defer release()
	navCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", pageURL, err)
	}

	s.applyWaitConditions(ctx)
	s.humanDelay(ctx)
	return nil
}

// applyWaitConditions runs the configured waits in order. A condition that
// times out is logged and skipped; the page is used as-is.
func (s *Session) applyWaitConditions(ctx context.Context) {
	for _, wc := range s.cfg.WaitConditions {
		timeout := time.Duration(wc.Timeout) * time.Millisecond
		switch wc.Type {
		case taskconfig.WaitElement:
			runCtx, release := s.runCtx(ctx)
			waitCtx, cancel := context.WithTimeout(runCtx, timeout)
			err := chromedp.Run(waitCtx, chromedp.WaitVisible(wc.Selector, chromedp.ByQuery))
			cancel()
			release()
			if err != nil {
				s.log.Warn().Str("selector", wc.Selector).Err(err).Msg("wait condition not met")
			}
		case taskconfig.WaitTimeout:
			select {
			case <-time.After(timeout):
			case <-ctx.Done():
				return
			}
		case taskconfig.WaitNetwork:
			runCtx, release := s.runCtx(ctx)
			idleCtx, cancel := context.WithTimeout(runCtx, timeout)
			if !s.tracker.awaitIdle(idleCtx, networkIdleWindow) {
				s.log.Warn().Msg("network did not go idle within wait bound")
			}
			cancel()
			release()
		}
	}
}

// WaitNetworkIdle blocks until the tab's network goes quiet or the bound
// elapses. It reports whether idle was reached.
func (s *Session) WaitNetworkIdle(ctx context.Context, bound time.Duration) bool {
	runCtx, release := s.runCtx(ctx)
	defer release()
	idleCtx, cancel := context.WithTimeout(runCtx, bound)
	defer cancel()
	return s.tracker.awaitIdle(idleCtx, networkIdleWindow)
}

// humanDelay sleeps 0.5 to 2 seconds so page interactions do not land at
// machine cadence.
func (s *Session) humanDelay(ctx context.Context) {
	delay := 500*time.Millisecond + time.Duration(rand.Int63n(int64(1500*time.Millisecond)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// HTML returns the full serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	runCtx, release := s.runCtx(ctx)
	defer release()
	err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", fmt.Errorf("failed to capture page HTML: %w", err)
	}
	return html, nil
}

// Location returns the tab's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	runCtx, release := s.runCtx(ctx)
	defer release()
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// ElementState describes a selector's match for interaction decisions.
type ElementState struct {
	Exists   bool `json:"exists"`
	Visible  bool `json:"visible"`
	Disabled bool `json:"disabled"`
}

// QueryElement inspects the first match of the selector.
func (s *Session) QueryElement(ctx context.Context, selector string) (ElementState, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return { exists: false, visible: false, disabled: false };
		const style = window.getComputedStyle(el);
		const visible = style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
		const disabled = el.disabled === true || el.getAttribute('aria-disabled') === 'true' || el.classList.contains('disabled');
		return { exists: true, visible: visible, disabled: disabled };
	})()`, strconv.Quote(selector))

	var state ElementState
	runCtx, release := s.runCtx(ctx)
	defer release()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &state)); err != nil {
		return ElementState{}, fmt.Errorf("element query for %q failed: %w", selector, err)
	}
	return state, nil
}

// Click clicks the first match of the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	timeout := time.Duration(s.cfg.Browser.Timeout) * time.Millisecond
	runCtx, release := s.runCtx(ctx)
	defer release()
	clickCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	if err := chromedp.Run(clickCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// Sleep pauses for the given duration, returning early on cancellation.
func (s *Session) Sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// runCtx ties an action to both the tab lifetime and the caller's context.
// The returned release must be called once the action completes so nothing
// lingers for the rest of the tab's life.
func (s *Session) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return s.tabCtx, func() {}
	}
	merged, cancel := context.WithCancel(s.tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// Close tears down the tab and the browser process. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		s.log.Debug().Msg("browser session closed")
	})
}
