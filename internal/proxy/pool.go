package proxy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoProxies is returned by Initialize and Refresh when the upstream
// provider yields an empty inventory.
var ErrNoProxies = errors.New("no proxies available from provider")

// Lister is the slice of the provider client the pool depends on.
type Lister interface {
	ListProxies(ctx context.Context, country string, limit int) ([]*Endpoint, error)
}

// Checker probes a single endpoint.
type Checker interface {
	Check(ctx context.Context, ep *Endpoint) (bool, time.Duration, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// HealthCheckInterval is the period of the background health loop.
	// Defaults to 5 minutes.
	HealthCheckInterval time.Duration
	// Country restricts the upstream fetch to one country, when set.
	Country string
	// FetchLimit bounds the provider page size. Defaults to 100.
	FetchLimit int
	// MaxFailures is kept for configuration compatibility. Serving-path
	// eviction is single-strike and does not consult it.
	MaxFailures int
}

// Pool is the shared proxy state across all concurrently executing tasks.
// Every read or write of the endpoint map and the healthy set goes through
// the mutex; the background health loop and task-path calls contend on it.
type Pool struct {
	provider Lister
	checker  Checker
	config   PoolConfig
	log      zerolog.Logger

	mu         sync.Mutex
	endpoints  map[string]*Endpoint
	healthyIDs []string
	rrIndex    int
	lastServed string
	stats      Stats

	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewPool creates a pool around the given provider and health checker.
// The pool serves nothing until Initialize succeeds.
func NewPool(provider Lister, checker Checker, config PoolConfig, log zerolog.Logger) *Pool {
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 5 * time.Minute
	}
	if config.FetchLimit <= 0 {
		config.FetchLimit = 100
	}
	return &Pool{
		provider:  provider,
		checker:   checker,
		config:    config,
		log:       log.With().Str("component", "proxy_pool").Logger(),
		endpoints: make(map[string]*Endpoint),
		stopChan:  make(chan struct{}),
	}
}

// Initialize fetches the proxy inventory, runs one synchronous health pass,
// and starts the background health loop when at least one endpoint came up
// healthy. It fails only when the provider yields nothing.
func (p *Pool) Initialize(ctx context.Context) error {
	fetched, err := p.provider.ListProxies(ctx, p.config.Country, p.config.FetchLimit)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return ErrNoProxies
	}

	p.mu.Lock()
	for _, ep := range fetched {
		p.endpoints[ep.ID()] = ep
	}
	p.stats.LastRefresh = time.Now()
	total := len(p.endpoints)
	p.mu.Unlock()

	p.log.Info().Int("proxies", total).Msg("loaded proxy inventory")

	p.runHealthPass(ctx)

	p.mu.Lock()
	healthy := len(p.healthyIDs)
	p.mu.Unlock()

	if healthy > 0 && !p.started {
		p.started = true
		go p.healthLoop()
	}

	p.log.Info().Int("healthy", healthy).Int("total", total).Msg("proxy pool initialized")
	return nil
}

// Get selects a healthy endpoint. Round-robin by default; sticky selection
// returns the previously served endpoint while it remains healthy. The
// country filter never falls back to the unfiltered set: callers must handle
// a nil return.
func (p *Pool) Get(opts GetOptions) *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.healthyIDs
	if opts.Country != "" {
		candidates = candidates[:0:0]
		for _, id := range p.healthyIDs {
			if p.endpoints[id].Country == opts.Country {
				candidates = append(candidates, id)
			}
		}
	}
	if len(candidates) == 0 {
		p.log.Warn().Str("country", opts.Country).Msg("no healthy proxies available")
		return nil
	}

	var id string
	if opts.Sticky && p.lastServed != "" && containsID(candidates, p.lastServed) {
		id = p.lastServed
	} else {
		id = candidates[p.rrIndex%len(candidates)]
		p.rrIndex++
		p.lastServed = id
	}

	ep := p.endpoints[id]
	ep.LastUsed = time.Now()
	return ep
}

// MarkSuccess resets the endpoint's failure count and re-admits it to the
// healthy set if it had been evicted.
func (p *Pool) MarkSuccess(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	known, ok := p.endpoints[ep.ID()]
	if !ok {
		return
	}
	known.FailureCount = 0
	known.Healthy = true
	if !containsID(p.healthyIDs, ep.ID()) {
		p.healthyIDs = append(p.healthyIDs, ep.ID())
		p.log.Info().Str("proxy", ep.ID()).Msg("restored healthy proxy")
	}
	p.stats.TotalRequests++
}

// MarkFailed evicts the endpoint from the healthy set immediately. A single
// observed failure during live use is treated as stronger signal than a
// periodic probe, so eviction does not wait for any failure threshold.
func (p *Pool) MarkFailed(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	known, ok := p.endpoints[ep.ID()]
	if ok {
		known.FailureCount++
		known.Healthy = false
		if p.removeHealthyLocked(ep.ID()) {
			p.stats.ProxySwitches++
			p.log.Warn().
				Str("proxy", ep.ID()).
				Int("failures", known.FailureCount).
				Msg("evicted failed proxy")
		}
	}
	p.stats.FailedRequests++
}

// Refresh re-fetches the inventory and reconciles it by endpoint identity:
// new endpoints are added and health-checked, vanished ones removed so no
// stale handles survive.
func (p *Pool) Refresh(ctx context.Context) error {
	fetched, err := p.provider.ListProxies(ctx, p.config.Country, p.config.FetchLimit)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return ErrNoProxies
	}

	p.mu.Lock()
	current := make(map[string]bool, len(fetched))
	for _, ep := range fetched {
		current[ep.ID()] = true
		if _, known := p.endpoints[ep.ID()]; !known {
			p.endpoints[ep.ID()] = ep
			p.log.Info().Str("proxy", ep.ID()).Msg("added new proxy")
		}
	}
	for id := range p.endpoints {
		if !current[id] {
			delete(p.endpoints, id)
			p.removeHealthyLocked(id)
			p.log.Info().Str("proxy", id).Msg("removed vanished proxy")
		}
	}
	p.stats.LastRefresh = time.Now()
	p.mu.Unlock()

	p.runHealthPass(ctx)
	return nil
}

// GetStats returns a snapshot of the pool counters.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.TotalProxies = len(p.endpoints)
	s.HealthyProxies = len(p.healthyIDs)
	return s
}

// Snapshot returns copies of every known endpoint, for monitoring.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, *ep)
	}
	return out
}

// Stop terminates the background health loop. Idempotent.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// healthLoop periodically re-probes every endpoint. It runs decoupled from
// task execution: task-path acquisition only reads already-computed state.
func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runHealthPass(context.Background())
		case <-p.stopChan:
			return
		}
	}
}

// runHealthPass probes all endpoints concurrently and folds the results back
// into the pool state. Probes run outside the lock; only the state updates
// take it.
func (p *Pool) runHealthPass(ctx context.Context) {
	p.mu.Lock()
	targets := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		probe := *ep
		targets = append(targets, &probe)
	}
	p.stats.LastHealthCheck = time.Now()
	p.mu.Unlock()

	type outcome struct {
		id      string
		healthy bool
		rtt     time.Duration
	}
	results := make([]outcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, ep *Endpoint) {
			defer wg.Done()
			ok, rtt, err := p.checker.Check(ctx, ep)
			if err != nil {
				p.log.Debug().Str("proxy", ep.ID()).Err(err).Msg("health check failed")
			}
			results[i] = outcome{id: ep.ID(), healthy: ok, rtt: rtt}
		}(i, target)
	}
	wg.Wait()

	healthyCount := 0
	p.mu.Lock()
	for _, r := range results {
		ep, ok := p.endpoints[r.id]
		if !ok {
			// Removed by a concurrent refresh while the probe was in flight.
			continue
		}
		ep.Healthy = r.healthy
		ep.ResponseTime = r.rtt
		ep.LastChecked = time.Now()
		if r.healthy {
			ep.FailureCount = 0
			if !containsID(p.healthyIDs, r.id) {
				p.healthyIDs = append(p.healthyIDs, r.id)
			}
			healthyCount++
		} else {
			ep.FailureCount++
			p.removeHealthyLocked(r.id)
		}
	}
	total := len(p.endpoints)
	p.mu.Unlock()

	p.log.Info().Int("healthy", healthyCount).Int("total", total).Msg("health pass complete")
}

// removeHealthyLocked removes id from the healthy set, reporting whether it
// was present. Callers hold p.mu.
func (p *Pool) removeHealthyLocked(id string) bool {
	for i, existing := range p.healthyIDs {
		if existing == id {
			p.healthyIDs = append(p.healthyIDs[:i], p.healthyIDs[i+1:]...)
			if p.rrIndex > 0 {
				p.rrIndex--
			}
			return true
		}
	}
	return false
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
