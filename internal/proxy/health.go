package proxy

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const healthCheckUserAgent = "harvester-healthcheck/1.0"

// defaultEchoURLs are IP-echo services used to probe proxy reachability.
// One is picked at random per check so no single third party becomes a
// dependency for the whole pool's health state.
var defaultEchoURLs = []string{
	"http://httpbin.org/ip",
	"https://ifconfig.me/ip",
	"http://icanhazip.com",
}

// HealthChecker probes individual endpoints by issuing an HTTP GET through
// them to an IP-echo service.
type HealthChecker struct {
	timeout  time.Duration
	echoURLs []string
}

// NewHealthChecker creates a checker with the given per-probe timeout.
// A zero timeout defaults to 10 seconds.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{
		timeout:  timeout,
		echoURLs: defaultEchoURLs,
	}
}

// Check probes one endpoint. Healthy means HTTP 200 within the timeout;
// the returned duration is the observed round-trip time.
func (hc *HealthChecker) Check(ctx context.Context, ep *Endpoint) (bool, time.Duration, error) {
	target := hc.echoURLs[rand.Intn(len(hc.echoURLs))]

	client := &http.Client{
		Timeout: hc.timeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(ep.URL()),
			DisableKeepAlives: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("User-Agent", healthCheckUserAgent)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	rtt := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return false, rtt, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return true, rtt, nil
}
