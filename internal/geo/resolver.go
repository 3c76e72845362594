// Package geo resolves source IPs to a display location.
//
// Resolvers never fail: private addresses short-circuit to LocalMarker and any
// lookup problem degrades to the raw-IP fallback.
package geo

import (
	"context"
	"net"

	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
)

// LocalMarker is shown for private, loopback and localhost addresses
const LocalMarker = "Local network"

// Resolver maps an IP address to a human-readable location string
type Resolver interface {
	Resolve(ctx context.Context, ip string) string
}

// Provider performs the actual lookup for a public address
type Provider interface {
	// Lookup returns "country, region, city, isp" or an error
	Lookup(ctx context.Context, ip string) (string, error)
	Name() string
}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsLocal reports whether ip is private, loopback or the literal "localhost"
func IsLocal(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Fallback is the display string used when resolution fails. A missing
// address is shown as "unknown".
func Fallback(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return ip + " (location unavailable)"
}

// ProviderResolver applies the local short-circuit and fallback rules around a Provider
type ProviderResolver struct {
	provider Provider
}

func NewResolver(p Provider) *ProviderResolver {
	return &ProviderResolver{provider: p}
}

// Resolve implements Resolver
func (r *ProviderResolver) Resolve(ctx context.Context, ip string) string {
	if IsLocal(ip) {
		metrics.GeoLookups.WithLabelValues("local").Inc()
		return LocalMarker
	}

	// Empty or "unknown" addresses cannot be looked up.
	if net.ParseIP(ip) == nil {
		metrics.GeoLookups.WithLabelValues("fallback").Inc()
		return Fallback(ip)
	}

	loc, err := r.provider.Lookup(ctx, ip)
	if err != nil || loc == "" {
		logging.Debug().Err(err).Str("ip", ip).Str("provider", r.provider.Name()).Msg("[GEO] Lookup failed, using fallback")
		metrics.GeoLookups.WithLabelValues("fallback").Inc()
		return Fallback(ip)
	}

	metrics.GeoLookups.WithLabelValues("resolved").Inc()
	return loc
}
