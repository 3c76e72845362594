package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"ssh-sentry/internal/logging"
)

const (
	// DefaultIPAPIURL is the free ip-api.com endpoint (no API key)
	DefaultIPAPIURL = "http://ip-api.com"

	// MaxTimeout bounds a single lookup
	MaxTimeout = 5 * time.Second

	ipAPIFields = "status,country,regionName,city,isp"
)

var (
	// errServiceFail is the service-reported "fail" sentinel (reserved range, bad query)
	errServiceFail = errors.New("ip-api lookup failed")
	errThrottled   = errors.New("ip-api request budget exhausted")
)

// IPAPI looks addresses up through the ip-api.com line endpoint.
// Outbound requests are throttled and guarded by a circuit breaker; a
// throttled or open-circuit lookup fails without touching the network.
type IPAPI struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[string]
}

// NewIPAPI creates the provider. perMinute <= 0 disables throttling.
func NewIPAPI(baseURL string, timeout time.Duration, perMinute int) *IPAPI {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	p := &IPAPI{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
	if perMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}

	p.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ip-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A "fail" answer means the service is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errServiceFail)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[GEO] Circuit breaker state change")
		},
	})

	return p
}

func (p *IPAPI) Name() string {
	return "ip-api"
}

// Lookup implements Provider
func (p *IPAPI) Lookup(ctx context.Context, ip string) (string, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return "", errThrottled
	}
	return p.cb.Execute(func() (string, error) {
		return p.query(ctx, ip)
	})
}

func (p *IPAPI) query(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/line/%s?fields=%s", p.baseURL, url.PathEscape(ip), ipAPIFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query ip-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read ip-api response: %w", err)
	}

	return parseLineResponse(string(body))
}

// parseLineResponse turns "success\ncountry\nregion\ncity\nisp" into
// "country, region, city, isp". Empty fields are skipped.
func parseLineResponse(body string) (string, error) {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "success" {
		return "", errServiceFail
	}

	parts := make([]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) == 0 {
		return "", errServiceFail
	}
	return strings.Join(parts, ", "), nil
}
