package identity

import (
	"net/http"
	"time"
)

// Config holds configuration for the identity resolver
type Config struct {
	HTTPClient *http.Client
	PLCURL     string

	CacheSize int
	CacheTTL  time.Duration

	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration

	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	MaxConcurrentRequests int

	// AllowedPrivateHosts lets local development point at a PDS on
	// localhost without disabling endpoint safety checks everywhere.
	AllowedPrivateHosts []string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		PLCURL:                  "https://plc.directory",
		CacheSize:               100_000,
		CacheTTL:                24 * time.Hour,
		MaxRetries:              3,
		RetryDelay:              time.Second,
		AttemptTimeout:          15 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
		MaxConcurrentRequests:   15,
	}
}

// NewResolver creates an identity resolver: network lookups behind a
// bounded FIFO queue, fronted by in-process LRU caches.
func NewResolver(config Config) Resolver {
	defaults := DefaultConfig()
	if config.PLCURL == "" {
		config.PLCURL = defaults.PLCURL
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaults.CacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = defaults.CircuitBreakerThreshold
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = defaults.CircuitBreakerTimeout
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = defaults.MaxConcurrentRequests
	}
	if config.HTTPClient == nil {
		// No client timeout; per-attempt contexts own the deadline.
		config.HTTPClient = &http.Client{}
	}

	guard := newEndpointGuard(config.AllowedPrivateHosts)
	base := newBaseResolver(config, guard)
	queue := newRequestQueue(config.MaxConcurrentRequests)

	return newCachingResolver(base, queue, guard, config)
}
