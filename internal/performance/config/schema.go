// Package config provides configuration parsing and validation for load tests.
package config

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultURL is the target of the built-in scenario.
const DefaultURL = "http://localhost:8090/"

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: stress
//	vus: 10
//	duration: 10s
//	request:
//	  method: GET
//	  url: http://localhost:8090/
//	checks:
//	  - name: status is 200
//	    status: 200
//	thresholds:
//	  http_req_failed: ["rate<0.01"]
//	  http_req_duration: ["p(95)<1000"]
//	  checks: ["rate>0.99"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// VUs is the number of concurrent virtual users
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long the virtual users keep starting iterations
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Request is the request every iteration issues
	Request RequestConfig `json:"request" yaml:"request"`

	// Checks are evaluated against every response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Thresholds map a metric name to pass/fail expressions,
	// e.g. http_req_duration: ["p(95)<1000"]
	Thresholds Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Settings contains HTTP client settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Options for test execution
	Options ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// RequestConfig defines the HTTP request issued by each iteration.
type RequestConfig struct {
	// Name for this request (used in logs and the summary)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET by default)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the absolute request URL
	URL string `json:"url" yaml:"url"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout overrides the client timeout for this request
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CheckConfig defines a named status code assertion.
type CheckConfig struct {
	Name   string `json:"name" yaml:"name"`
	Status int    `json:"status" yaml:"status"`
}

// Thresholds maps a metric name to its threshold expressions.
type Thresholds map[string][]string

// GlobalSettings contains HTTP client settings.
type GlobalSettings struct {
	// Timeout is the HTTP client timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host (defaults to vus)
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header sent when the request sets none
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// RPS caps the global request rate; 0 means unlimited
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	// GracefulStop bounds how long in-flight requests may run past the
	// deadline; 0 leaves them to the client timeout
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ExpectedStatuses lists the status ranges that do not count as
	// failed requests, e.g. "200-399"
	ExpectedStatuses string `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultName             = "stampede"
	DefaultTimeout          = 60 * time.Second
	DefaultExpectedStatuses = "200-399"
	DefaultUserAgent        = "stampede/0.1.0"
)

// Default returns the built-in scenario: 10 VUs hitting DefaultURL for 10
// seconds with a "status is 200" check and the stock thresholds.
func Default() *TestConfig {
	return &TestConfig{
		Name:     "stress",
		VUs:      10,
		Duration: Duration(10 * time.Second),
		Request: RequestConfig{
			Method: http.MethodGet,
			URL:    DefaultURL,
		},
		Checks: []CheckConfig{
			{Name: "status is 200", Status: http.StatusOK},
		},
		Thresholds: Thresholds{
			"http_req_failed":   {"rate<0.01"},
			"http_req_duration": {"p(95)<1000"},
			"checks":            {"rate>0.99"},
		},
	}
}

// ApplyDefaults fills in unset optional fields.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Request.Method == "" {
		cfg.Request.Method = http.MethodGet
	}
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Settings.MaxIdleConnsPerHost == 0 {
		cfg.Settings.MaxIdleConnsPerHost = cfg.VUs
	}
	if cfg.Settings.UserAgent == "" {
		cfg.Settings.UserAgent = DefaultUserAgent
	}
	if cfg.Options.ExpectedStatuses == "" {
		cfg.Options.ExpectedStatuses = DefaultExpectedStatuses
	}
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings
// ("30s") or integer seconds (30).
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = 0
		return nil
	}

	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithStack(err)
		}
	} else {
		s = string(b)
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: duration must be a scalar", value.Line)
	}

	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// maxDurationSeconds is the largest whole number of seconds a time.Duration
// holds.
const maxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	seconds, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid duration format: %q", s)
	}
	if seconds > maxDurationSeconds || seconds < -maxDurationSeconds {
		return 0, errors.Errorf("duration out of range: %q", s)
	}
	return time.Duration(seconds) * time.Second, nil
}
