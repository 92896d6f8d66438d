package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min int
	Max int
}

// StatusRanges is a set of accepted status codes.
type StatusRanges []StatusRange

// Contains reports whether the status falls in any of the ranges.
func (r StatusRanges) Contains(status int) bool {
	for _, sr := range r {
		if status >= sr.Min && status <= sr.Max {
			return true
		}
	}
	return false
}

// ParseStatusRanges parses a list like "200-399,404" into ranges.
func ParseStatusRanges(s string) (StatusRanges, error) {
	var ranges StatusRanges

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		minStatus, err := parseStatus(lo)
		if err != nil {
			return nil, err
		}
		maxStatus := minStatus
		if isRange {
			if maxStatus, err = parseStatus(hi); err != nil {
				return nil, err
			}
		}
		if minStatus > maxStatus {
			return nil, errors.Errorf("status range %q is reversed", part)
		}

		ranges = append(ranges, StatusRange{Min: minStatus, Max: maxStatus})
	}

	if len(ranges) == 0 {
		return nil, errors.New("at least one status is required")
	}
	return ranges, nil
}

func parseStatus(s string) (int, error) {
	status, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Errorf("invalid status %q", s)
	}
	if status < 100 || status > 599 {
		return 0, errors.Errorf("status %d out of range 100-599", status)
	}
	return status, nil
}
