// Package performance runs the virtual users of a load test.
package performance

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/config"
)

// Request is the HTTP request every iteration issues.
type Request struct {
	Name      string
	Method    string
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string

	// Expected lists the statuses that do not count as failed requests
	Expected config.StatusRanges
}

// NewRequest builds the iteration request from a test configuration.
func NewRequest(cfg *config.TestConfig) (*Request, error) {
	expected := cfg.Options.ExpectedStatuses
	if expected == "" {
		expected = config.DefaultExpectedStatuses
	}
	ranges, err := config.ParseStatusRanges(expected)
	if err != nil {
		return nil, errors.Wrap(err, "invalid expected statuses")
	}

	method := strings.ToUpper(cfg.Request.Method)
	if method == "" {
		method = http.MethodGet
	}

	return &Request{
		Name:      cfg.Request.Name,
		Method:    method,
		URL:       cfg.Request.URL,
		Headers:   cfg.Request.Headers,
		Timeout:   time.Duration(cfg.Request.Timeout),
		UserAgent: cfg.Settings.UserAgent,
		Expected:  ranges,
	}, nil
}

// RequestOutcome is the result of one HTTP request.
//
// Error is only set for transport failures (connection refused, DNS,
// timeouts, body read errors). A 4xx or 5xx response is a normal outcome
// and only shows up in Failed.
type RequestOutcome struct {
	StatusCode    int           `json:"statusCode"`
	Duration      time.Duration `json:"duration"`
	BytesReceived int64         `json:"bytesReceived"`
	Error         error         `json:"-"`
	Failed        bool          `json:"failed"`
	Interrupted   bool          `json:"interrupted"`
}

// Do issues the request with client. The duration covers sending the request
// through reading the last byte of the body. The body is drained and closed
// so the connection can be reused.
func (r *Request) Do(ctx context.Context, client *http.Client) *RequestOutcome {
	outcome := &RequestOutcome{}

	reqCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, r.Method, r.URL, nil)
	if err != nil {
		outcome.Error = errors.Wrap(err, "failed to build request")
		outcome.Failed = true
		return outcome
	}
	for key, value := range r.Headers {
		httpReq.Header.Set(key, value)
	}
	if r.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", r.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		outcome.Duration = time.Since(start)
		outcome.Error = err
		outcome.Failed = true
		outcome.Interrupted = ctx.Err() != nil
		return outcome
	}

	n, err := io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	outcome.Duration = time.Since(start)
	outcome.StatusCode = resp.StatusCode
	outcome.BytesReceived = n

	if err != nil {
		outcome.Error = errors.Wrap(err, "failed to read response body")
		outcome.Interrupted = ctx.Err() != nil
	}
	outcome.Failed = outcome.Error != nil || !r.Expected.Contains(resp.StatusCode)

	return outcome
}
