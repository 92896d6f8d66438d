package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.VUs <= 0 {
		errs.Add("vus", "vus must be greater than 0")
	}
	if c.Duration <= 0 {
		errs.Add("duration", "duration must be greater than 0")
	}

	validateRequest("request", &c.Request, errs)

	seen := make(map[string]bool, len(c.Checks))
	for i, check := range c.Checks {
		prefix := fmt.Sprintf("checks[%d]", i)
		if check.Name == "" {
			errs.Add(prefix+".name", "name is required")
		} else if seen[check.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate check name: %s", check.Name))
		}
		seen[check.Name] = true

		if check.Status < 100 || check.Status > 599 {
			errs.Add(prefix+".status", fmt.Sprintf("status %d out of range 100-599", check.Status))
		}
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)
	validateOptions(&c.Options, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateRequest validates the request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	if req.Method != "" && !validMethods[strings.ToUpper(req.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		u, err := url.Parse(req.URL)
		switch {
		case err != nil:
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs.Add(prefix+".url", fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
		case u.Host == "":
			errs.Add(prefix+".url", "URL must include a host")
		}
	}

	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}
}

// validateThresholds checks every expression parses for its metric.
func validateThresholds(t Thresholds, errs *ValidationErrors) {
	metrics := make([]string, 0, len(t))
	for metric := range t {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		for i, expr := range t[metric] {
			if _, err := threshold.Parse(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

// validateSettings validates HTTP client settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

// validateOptions validates execution options.
func validateOptions(o *ExecutionOptions, errs *ValidationErrors) {
	if o.RPS < 0 {
		errs.Add("options.rps", "cannot be negative")
	}
	if o.GracefulStop < 0 {
		errs.Add("options.gracefulStop", "cannot be negative")
	}
	if o.ExpectedStatuses != "" {
		if _, err := ParseStatusRanges(o.ExpectedStatuses); err != nil {
			errs.Add("options.expectedStatuses", err.Error())
		}
	}
}
