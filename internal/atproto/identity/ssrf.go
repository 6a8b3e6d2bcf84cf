package identity

import (
	"net"
	"net/url"
	"strings"
)

// endpointGuard rejects service endpoints that would let a hostile DID
// document steer the AppView at internal infrastructure.
type endpointGuard struct {
	allowed map[string]bool
}

func newEndpointGuard(allowedHosts []string) *endpointGuard {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return &endpointGuard{allowed: allowed}
}

// CheckURL validates a full service endpoint URL.
func (g *endpointGuard) CheckURL(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ErrUnsafeEndpoint{Endpoint: endpoint, Reason: "unparseable URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrUnsafeEndpoint{Endpoint: endpoint, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ErrUnsafeEndpoint{Endpoint: endpoint, Reason: "missing host"}
	}
	return g.CheckHost(u.Host)
}

// CheckHost validates a bare host or host:port.
func (g *endpointGuard) CheckHost(host string) error {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.ToLower(strings.Trim(hostname, "[]"))

	if g.allowed[hostname] || g.allowed[strings.ToLower(host)] {
		return nil
	}

	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return &ErrUnsafeEndpoint{Endpoint: host, Reason: "localhost is not allowed"}
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		// Hostname other than localhost. DNS rebinding is out of scope
		// here; the resolver only fetches documents, never blobs.
		return nil
	}

	switch {
	case ip.IsLoopback():
		return &ErrUnsafeEndpoint{Endpoint: host, Reason: "loopback address"}
	case ip.IsPrivate():
		return &ErrUnsafeEndpoint{Endpoint: host, Reason: "private address range"}
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return &ErrUnsafeEndpoint{Endpoint: host, Reason: "link-local address"}
	case ip.IsUnspecified():
		return &ErrUnsafeEndpoint{Endpoint: host, Reason: "unspecified address"}
	}
	return nil
}
