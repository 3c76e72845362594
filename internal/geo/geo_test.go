package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func lineServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if !strings.HasPrefix(r.URL.Path, "/line/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIsLocal(t *testing.T) {
	tests := map[string]bool{
		"10.1.2.3":       true,
		"172.16.0.1":     true,
		"172.31.255.255": true,
		"172.32.0.1":     false,
		"192.168.1.1":    true,
		"127.0.0.1":      true,
		"::1":            true,
		"localhost":      true,
		"203.0.113.5":    false,
		"2001:db8::1":    false,
		"unknown":        false,
	}
	for ip, want := range tests {
		if got := IsLocal(ip); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestResolve_Success(t *testing.T) {
	var hits int32
	srv := lineServer(t, "success\nUnited States\nCalifornia\nLos Angeles\nExample ISP\n", &hits)
	r := NewResolver(NewIPAPI(srv.URL, time.Second, 0))

	got := r.Resolve(context.Background(), "203.0.113.5")
	if got != "United States, California, Los Angeles, Example ISP" {
		t.Errorf("Unexpected location: %q", got)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected 1 lookup, got %d", atomic.LoadInt32(&hits))
	}
}

func TestResolve_PrivateNeverQueries(t *testing.T) {
	var hits int32
	srv := lineServer(t, "success\nNowhere\n", &hits)
	r := NewResolver(NewIPAPI(srv.URL, time.Second, 0))

	for _, ip := range []string{"10.0.0.5", "192.168.1.20", "127.0.0.1", "::1", "localhost"} {
		if got := r.Resolve(context.Background(), ip); got != LocalMarker {
			t.Errorf("Resolve(%q) = %q, want %q", ip, got, LocalMarker)
		}
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("Private addresses should not be looked up, got %d requests", atomic.LoadInt32(&hits))
	}
}

func TestResolve_FailFallsBack(t *testing.T) {
	var hits int32
	srv := lineServer(t, "fail\n", &hits)
	r := NewResolver(NewIPAPI(srv.URL, time.Second, 0))

	if got := r.Resolve(context.Background(), "198.51.100.9"); got != Fallback("198.51.100.9") {
		t.Errorf("Unexpected fallback: %q", got)
	}
}

func TestResolve_UnknownAddressSkipsLookup(t *testing.T) {
	var hits int32
	srv := lineServer(t, "success\nNowhere\n", &hits)
	r := NewResolver(NewIPAPI(srv.URL, time.Second, 0))

	if got := r.Resolve(context.Background(), "unknown"); got != "unknown (location unavailable)" {
		t.Errorf("Unexpected result: %q", got)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("Unparseable address should not be looked up, got %d requests", atomic.LoadInt32(&hits))
	}
}

func TestResolve_EmptyAddress(t *testing.T) {
	var hits int32
	srv := lineServer(t, "success\nNowhere\n", &hits)
	r := NewResolver(NewIPAPI(srv.URL, time.Second, 0))

	if got := r.Resolve(context.Background(), ""); got != "unknown (location unavailable)" {
		t.Errorf("Unexpected result: %q", got)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("Empty address should not be looked up, got %d requests", atomic.LoadInt32(&hits))
	}
}

func TestResolve_TimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewResolver(NewIPAPI(srv.URL, 50*time.Millisecond, 0))

	start := time.Now()
	got := r.Resolve(context.Background(), "203.0.113.5")
	if got != Fallback("203.0.113.5") {
		t.Errorf("Unexpected result: %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Lookup was not bounded by the timeout: %v", elapsed)
	}
}

func TestIPAPI_Throttle(t *testing.T) {
	var hits int32
	srv := lineServer(t, "success\nGermany\n", &hits)
	p := NewIPAPI(srv.URL, time.Second, 1)

	if _, err := p.Lookup(context.Background(), "203.0.113.5"); err != nil {
		t.Fatalf("First lookup: %v", err)
	}
	if _, err := p.Lookup(context.Background(), "203.0.113.6"); err != errThrottled {
		t.Errorf("Expected throttle error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Throttled lookup should not hit the network, got %d requests", atomic.LoadInt32(&hits))
	}
}

func TestIPAPI_TimeoutIsCapped(t *testing.T) {
	p := NewIPAPI("", time.Minute, 0)
	if p.timeout != MaxTimeout {
		t.Errorf("timeout = %v, want %v", p.timeout, MaxTimeout)
	}
	if p.baseURL != DefaultIPAPIURL {
		t.Errorf("baseURL = %q, want %q", p.baseURL, DefaultIPAPIURL)
	}
}

func TestParseLineResponse(t *testing.T) {
	tests := []struct {
		body    string
		want    string
		wantErr bool
	}{
		{"success\nFrance\nIle-de-France\nParis\nOrange\n", "France, Ile-de-France, Paris, Orange", false},
		{"success\nJapan\n\n\nNTT\n", "Japan, NTT", false},
		{"fail\n", "", true},
		{"success\n", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseLineResponse(tt.body)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLineResponse(%q) err = %v, wantErr %v", tt.body, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLineResponse(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestNewMaxMind_MissingDB(t *testing.T) {
	if _, err := NewMaxMind("/nonexistent/GeoLite2-City.mmdb", ""); err == nil {
		t.Error("Expected error for missing database")
	}
}
