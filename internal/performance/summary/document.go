package summary

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Document is an exported summary read back from disk. It answers metric
// lookups directly from the JSON, so thresholds can be checked offline.
type Document struct {
	json string
}

// Load reads a summary file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read summary")
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "summary %s", path)
	}
	return doc, nil
}

// Parse wraps summary JSON.
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	json := string(data)
	if !gjson.Get(json, "metrics").IsObject() {
		return nil, errors.New("no metrics object")
	}
	return &Document{json: json}, nil
}

// Name returns the test name stored in the summary.
func (d *Document) Name() string {
	return gjson.Get(d.json, "name").String()
}

// Passed returns the verdict stored in the summary.
func (d *Document) Passed() bool {
	return gjson.Get(d.json, "passed").Bool()
}

// Value implements threshold.Source over the stored metric values.
func (d *Document) Value(metric, aggregation string) (float64, error) {
	path := "metrics." + escape(metric) + ".values." + escape(aggregation)
	result := gjson.Get(d.json, path)
	if !result.Exists() {
		return 0, errors.Errorf("summary has no %s value for %s", aggregation, metric)
	}
	if result.Type != gjson.Number {
		return 0, errors.Errorf("summary value %s of %s is not a number", aggregation, metric)
	}
	return result.Float(), nil
}

// Thresholds returns the threshold expressions recorded in the summary,
// keyed by metric.
func (d *Document) Thresholds() map[string][]string {
	out := make(map[string][]string)
	gjson.Get(d.json, "metrics").ForEach(func(metric, value gjson.Result) bool {
		var exprs []string
		value.Get("thresholds").ForEach(func(expr, _ gjson.Result) bool {
			exprs = append(exprs, expr.String())
			return true
		})
		if len(exprs) > 0 {
			sort.Strings(exprs)
			out[metric.String()] = exprs
		}
		return true
	})
	return out
}

// escape makes a metric or aggregation name safe to use as a path
// component.
func escape(comp string) string {
	var sb strings.Builder
	for _, c := range comp {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
