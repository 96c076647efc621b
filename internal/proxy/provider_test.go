package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProviderClient_ListProxies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		if got := r.URL.Query().Get("page_size"); got != "50" {
			t.Errorf("page_size = %q, want 50", got)
		}
		if got := r.URL.Query().Get("country_code"); got != "US" {
			t.Errorf("country_code = %q, want US", got)
		}

		json.NewEncoder(w).Encode(providerListResponse{
			Results: []providerProxy{
				{ProxyAddress: "10.0.0.1", Port: 8080, Username: "u", Password: "p", CountryCode: "US", CityName: "Dallas"},
				{ProxyAddress: "10.0.0.2", Port: 8081, Username: "u", Password: "p", CountryCode: "US"},
			},
		})
	}))
	defer server.Close()

	client := NewProviderClient("test-key", server.URL)
	endpoints, err := client.ListProxies(context.Background(), "US", 50)
	if err != nil {
		t.Fatalf("ListProxies() returned error: %v", err)
	}

	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
	if endpoints[0].ID() != "10.0.0.1:8080" {
		t.Errorf("unexpected endpoint ID: %s", endpoints[0].ID())
	}
	if endpoints[0].City != "Dallas" {
		t.Errorf("city = %q, want Dallas", endpoints[0].City)
	}
	if got := endpoints[0].URL().String(); got != "http://u:p@10.0.0.1:8080" {
		t.Errorf("URL() = %s", got)
	}
}

func TestProviderClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewProviderClient("bad-key", server.URL)
	if _, err := client.ListProxies(context.Background(), "", 0); err == nil {
		t.Error("expected error for non-200 provider response")
	}
}
