package geo

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind resolves addresses offline from GeoLite2 databases. The City
// database provides country/region/city; the optional ASN database fills in
// the network operator.
type MaxMind struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewMaxMind opens the City database and, if asnPath is set, the ASN database
func NewMaxMind(cityPath, asnPath string) (*MaxMind, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP city db: %w", err)
	}

	m := &MaxMind{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("failed to open GeoIP ASN db: %w", err)
		}
		m.asn = asn
	}
	return m, nil
}

func (m *MaxMind) Name() string {
	return "maxmind"
}

// Lookup implements Provider
func (m *MaxMind) Lookup(_ context.Context, ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	rec, err := m.city.City(addr)
	if err != nil {
		return "", fmt.Errorf("city lookup failed: %w", err)
	}

	var region string
	if len(rec.Subdivisions) > 0 {
		region = rec.Subdivisions[0].Names["en"]
	}
	parts := []string{rec.Country.Names["en"], region, rec.City.Names["en"]}

	if m.asn != nil {
		if asn, err := m.asn.ASN(addr); err == nil {
			parts = append(parts, asn.AutonomousSystemOrganization)
		}
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("no location data for %s", ip)
	}
	return strings.Join(out, ", "), nil
}

// Close releases the database readers
func (m *MaxMind) Close() error {
	if m.asn != nil {
		m.asn.Close()
	}
	return m.city.Close()
}
