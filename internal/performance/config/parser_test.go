package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{
			name:     "standard seconds",
			input:    "30s",
			expected: 30 * time.Second,
		},
		{
			name:     "milliseconds",
			input:    "500ms",
			expected: 500 * time.Millisecond,
		},
		{
			name:     "combined duration",
			input:    "1h30m",
			expected: 90 * time.Minute,
		},
		{
			name:     "integer as seconds",
			input:    "10",
			expected: 10 * time.Second,
		},
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:    "invalid format",
			input:   "abc",
			wantErr: true,
		},
		{
			name:     "largest integer seconds",
			input:    "9223372036",
			expected: 9223372036 * time.Second,
		},
		{
			name:    "integer seconds overflow duration",
			input:   "9223372037",
			wantErr: true,
		},
		{
			name:    "integer seconds overflow int64",
			input:   "99999999999999999999",
			wantErr: true,
		},
		{
			name:    "negative overflow",
			input:   "-9223372037",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "Smoke"
description: "A test configuration"
vus: 5
duration: 30s
request:
  method: POST
  url: https://api.example.com/orders
  headers:
    Content-Type: application/json
  timeout: 5s
checks:
  - name: status is 201
    status: 201
thresholds:
  http_req_duration:
    - p(95)<500
    - avg<200
  http_req_failed:
    - rate<0.05
settings:
  timeout: 10
  maxIdleConnsPerHost: 20
  insecureSkipVerify: true
options:
  rps: 50
  gracefulStop: 2s
  expectedStatuses: "200-299"
`

	cfg, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Smoke", cfg.Name)
	assert.Equal(t, "A test configuration", cfg.Description)
	assert.Equal(t, 5, cfg.VUs)
	assert.Equal(t, Duration(30*time.Second), cfg.Duration)
	assert.Equal(t, RequestConfig{
		Method:  "POST",
		URL:     "https://api.example.com/orders",
		Headers: map[string]string{"Content-Type": "application/json"},
		Timeout: Duration(5 * time.Second),
	}, cfg.Request)
	assert.Equal(t, []CheckConfig{{Name: "status is 201", Status: 201}}, cfg.Checks)
	assert.Equal(t, Thresholds{
		"http_req_duration": {"p(95)<500", "avg<200"},
		"http_req_failed":   {"rate<0.05"},
	}, cfg.Thresholds)
	assert.Equal(t, GlobalSettings{
		Timeout:             Duration(10 * time.Second),
		MaxIdleConnsPerHost: 20,
		InsecureSkipVerify:  true,
	}, cfg.Settings)
	assert.Equal(t, ExecutionOptions{
		RPS:              50,
		GracefulStop:     Duration(2 * time.Second),
		ExpectedStatuses: "200-299",
	}, cfg.Options)

	require.NoError(t, cfg.Validate())
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
  "name": "json",
  "vus": 2,
  "duration": "1m",
  "request": {"url": "http://localhost:8090/"},
  "thresholds": {"checks": ["rate>0.99"]}
}`

	cfg, err := ParseConfig([]byte(jsonConfig), "test.json")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Name)
	assert.Equal(t, 2, cfg.VUs)
	assert.Equal(t, Duration(time.Minute), cfg.Duration)
	assert.Equal(t, "http://localhost:8090/", cfg.Request.URL)
	assert.Equal(t, Thresholds{"checks": {"rate>0.99"}}, cfg.Thresholds)
}

func TestParseConfig_UnknownExtensionIsYAML(t *testing.T) {
	cfg, err := ParseConfig([]byte("vus: 3\nrequest:\n  url: http://x/\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.VUs)
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		path  string
		field string
	}{
		{"wrong type", "vus: many\nrequest:\n  url: http://x/\n", "a.yaml", "vus"},
		{"zero vus", "vus: 0\nrequest:\n  url: http://x/\n", "a.yaml", "vus"},
		{"unknown field", "vus: 1\nstages: []\nrequest:\n  url: http://x/\n", "a.yaml", ""},
		{"missing url", "vus: 1\nrequest:\n  method: GET\n", "a.yaml", "request"},
		{"check without status", "request:\n  url: http://x/\nchecks:\n  - name: ok\n", "a.yaml", "checks.0"},
		{"negative rps", `{"request":{"url":"http://x/"},"options":{"rps":-1}}`, "a.json", "options.rps"},
		{"threshold not a list", "request:\n  url: http://x/\nthresholds:\n  checks: rate>0.9\n", "a.yaml", "thresholds.checks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data), tt.path)
			require.Error(t, err)

			var verr *ValidationErrors
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Errors)

			fields := make([]string, 0, len(verr.Errors))
			for _, e := range verr.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field, err.Error())
		})
	}
}

func TestParseConfig_SyntaxErrors(t *testing.T) {
	_, err := ParseConfig([]byte("vus: [1"), "a.yaml")
	assert.ErrorContains(t, err, "failed to parse YAML config")

	_, err = ParseConfig([]byte(`{"vus": 1`), "a.json")
	assert.ErrorContains(t, err, "failed to parse JSON config")

	_, err = ParseConfig([]byte("request:\n  url: http://x/\nduration: soon\n"), "a.yaml")
	assert.ErrorContains(t, err, "failed to decode YAML config")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stress.yml")
	require.NoError(t, os.WriteFile(path, []byte("vus: 10\nduration: 10s\nrequest:\n  url: http://localhost:8090/\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.VUs)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "stress.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	reference := Default()
	assert.Equal(t, reference.VUs, cfg.VUs)
	assert.Equal(t, reference.Duration, cfg.Duration)
	assert.Equal(t, reference.Request.URL, cfg.Request.URL)
	assert.Equal(t, reference.Checks, cfg.Checks)
	assert.Equal(t, reference.Thresholds, cfg.Thresholds)
}

func TestDuration_Marshalling(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{d})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))

	var fromInt Duration
	require.NoError(t, json.Unmarshal([]byte("15"), &fromInt))
	assert.Equal(t, Duration(15*time.Second), fromInt)

	var huge Duration
	assert.ErrorContains(t, json.Unmarshal([]byte("18446744074"), &huge), "out of range")

	var fromNull Duration = 5
	require.NoError(t, json.Unmarshal([]byte("null"), &fromNull))
	assert.Zero(t, fromNull)

	var node struct {
		D Duration `yaml:"d"`
	}
	err = yaml.Unmarshal([]byte("d: [1]\n"), &node)
	assert.True(t, err != nil && strings.Contains(err.Error(), "scalar"), "got %v", err)

	assert.Equal(t, 3*time.Second, Duration(0).GetDuration(3*time.Second))
	assert.Equal(t, time.Second, Duration(time.Second).GetDuration(3*time.Second))
}
