package performance

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It owns the HTTP client shared by every VU and hands out VUs to the
// executor, which decides when they run.
type VUScheduler struct {
	request *Request
	checks  []Check
	metrics *metrics.Engine
	limiter Limiter

	httpClientConfig HTTPClientConfig
	client           *http.Client

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             config.DefaultTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// HTTPClientConfigFromSettings derives the client configuration from the
// test settings, keeping defaults for anything unset.
func HTTPClientConfigFromSettings(s config.GlobalSettings) HTTPClientConfig {
	cfg := DefaultHTTPClientConfig()
	cfg.Timeout = s.Timeout.GetDuration(cfg.Timeout)
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	return cfg
}

// NewVUScheduler creates a new VU scheduler. limiter may be nil.
func NewVUScheduler(req *Request, checks []Check, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig, limiter Limiter) *VUScheduler {
	s := &VUScheduler{
		request:          req,
		checks:           checks,
		metrics:          metricsEngine,
		limiter:          limiter,
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
	}
	s.client = s.createHTTPClient()
	return s
}

// createHTTPClient creates an HTTP client with the configured settings.
func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.httpClientConfig.Timeout,
	}
}

// Client returns the shared HTTP client.
func (s *VUScheduler) Client() *http.Client {
	return s.client
}

// SpawnVU creates and registers a new Virtual User. IDs start at 1.
//
// The VU is not started; the caller runs its Loop.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	vu := NewVirtualUser(id, s.request, s.checks, s.client, s.metrics)
	vu.Limiter = s.limiter

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// TotalIterations returns the iterations started by all VUs.
func (s *VUScheduler) TotalIterations() int64 {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	var total int64
	for _, vu := range s.vus {
		total += vu.GetIteration()
	}
	return total
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if vu.GetState() != VUStateStopped {
				notStopped++
			}
			continue
		}
		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}

	return notStopped
}

// UpdateMetrics publishes the active VU count to the metrics engine.
func (s *VUScheduler) UpdateMetrics() {
	s.metrics.SetActiveVUs(s.GetActiveVUCount())
}

// Shutdown stops all VUs, waits up to timeout for them, and closes idle
// connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) error {
	s.StopAllVUs()
	notStopped := s.WaitForAllVUs(timeout)
	s.client.CloseIdleConnections()
	s.UpdateMetrics()

	if notStopped > 0 {
		return errors.Errorf("%d VUs did not stop within %s", notStopped, timeout)
	}
	return nil
}
