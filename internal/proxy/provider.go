package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ProviderClient fetches the proxy inventory from the upstream provider's
// REST API. The provider is only called at initialization and on explicit
// refresh, never on the task path.
type ProviderClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// providerProxy mirrors one entry of the provider's list response.
type providerProxy struct {
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CountryCode  string `json:"country_code"`
	CityName     string `json:"city_name"`
}

type providerListResponse struct {
	Results []providerProxy `json:"results"`
}

// NewProviderClient creates a client for the upstream proxy provider.
func NewProviderClient(apiKey, baseURL string) *ProviderClient {
	return &ProviderClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ListProxies fetches up to limit proxies, optionally filtered by country.
func (pc *ProviderClient) ListProxies(ctx context.Context, country string, limit int) ([]*Endpoint, error) {
	if limit <= 0 {
		limit = 100
	}

	endpoint, err := url.JoinPath(pc.baseURL, "proxy", "list")
	if err != nil {
		return nil, fmt.Errorf("invalid provider base URL %q: %w", pc.baseURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+pc.apiKey)
	req.Header.Set("Content-Type", "application/json")

	q := req.URL.Query()
	q.Set("page_size", strconv.Itoa(limit))
	if country != "" {
		q.Set("country_code", country)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := pc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var list providerListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	endpoints := make([]*Endpoint, 0, len(list.Results))
	for _, p := range list.Results {
		endpoints = append(endpoints, &Endpoint{
			Host:     p.ProxyAddress,
			Port:     p.Port,
			Username: p.Username,
			Password: p.Password,
			Country:  p.CountryCode,
			City:     p.CityName,
		})
	}
	return endpoints, nil
}
