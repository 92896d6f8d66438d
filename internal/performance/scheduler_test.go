package performance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

func TestHTTPClientConfigFromSettings(t *testing.T) {
	cfg := HTTPClientConfigFromSettings(config.GlobalSettings{})
	assert.Equal(t, DefaultHTTPClientConfig(), cfg)

	cfg = HTTPClientConfigFromSettings(config.GlobalSettings{
		Timeout:             config.Duration(5 * time.Second),
		MaxIdleConnsPerHost: 10,
		InsecureSkipVerify:  true,
	})
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 10, cfg.MaxIdleConnsPerHost)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	req := newTestRequest(t, "http://localhost:8090/")
	scheduler := NewVUScheduler(req, nil, metricsEngine, DefaultHTTPClientConfig(), nil)

	vu1 := scheduler.SpawnVU()
	vu2 := scheduler.SpawnVU()

	assert.Equal(t, 1, vu1.ID)
	assert.Equal(t, 2, vu2.ID)
	assert.Same(t, scheduler.Client(), vu1.HTTPClient)
	assert.Same(t, vu1.HTTPClient, vu2.HTTPClient)
	assert.Equal(t, 2, scheduler.GetActiveVUCount())

	scheduler.UpdateMetrics()
	assert.Equal(t, 2, metricsEngine.GetActiveVUs())
}

func TestVUScheduler_InsecureClient(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req := newTestRequest(t, server.URL)

	strict := NewVUScheduler(req, nil, metrics.NewEngine(), DefaultHTTPClientConfig(), nil)
	outcome := req.Do(context.Background(), strict.Client())
	assert.Error(t, outcome.Error, "self-signed certificate is rejected")

	httpConfig := DefaultHTTPClientConfig()
	httpConfig.InsecureSkipVerify = true
	insecure := NewVUScheduler(req, nil, metrics.NewEngine(), httpConfig, nil)
	outcome = req.Do(context.Background(), insecure.Client())
	require.NoError(t, outcome.Error)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
}

func TestVUScheduler_Shutdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	req := newTestRequest(t, server.URL)
	checks := []Check{{Name: "status is 200", Status: http.StatusOK}}
	scheduler := NewVUScheduler(req, checks, metricsEngine, DefaultHTTPClientConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		vu := scheduler.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = vu.Loop(context.Background(), context.Background())
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, scheduler.Shutdown(2*time.Second))
	wg.Wait()

	assert.Zero(t, scheduler.GetActiveVUCount())
	assert.Zero(t, metricsEngine.GetActiveVUs())

	snapshot := metricsEngine.GetSnapshot()
	assert.Greater(t, scheduler.TotalIterations(), int64(0))
	assert.Equal(t, scheduler.TotalIterations(), snapshot.Iterations+snapshot.InterruptedIterations)
}
