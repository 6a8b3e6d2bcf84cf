package pds

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Pool hands out one Client per PDS host. Clients share the pool's
// HTTP transport, and each host gets its own token bucket, so the
// repair worker, backfills and the auth proxy all draw from the same
// per-host budget.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	httpc   *http.Client
	rps     rate.Limit
	burst   int
}

// NewPool builds a pool limiting each host to requestsPerSecond.
// Zero or negative selects DefaultRequestsPerSecond.
func NewPool(requestsPerSecond float64) *Pool {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Pool{
		clients: make(map[string]*Client),
		httpc:   &http.Client{Timeout: requestTimeout},
		rps:     rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

// ForHost returns the shared client for a host, creating it on first
// use. Hosts differing only by a trailing slash map to the same client.
func (p *Pool) ForHost(host string) *Client {
	host = strings.TrimRight(host, "/")

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c
	}
	c := newClient(host, p.httpc, rate.NewLimiter(p.rps, p.burst))
	p.clients[host] = c
	return c
}
