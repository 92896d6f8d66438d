package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	default:
		return nil, errors.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to initialize executor")
	}

	return exec, nil
}

// ConfigFromTestConfig derives the executor configuration of a test.
func ConfigFromTestConfig(tc *config.TestConfig) *Config {
	return &Config{
		Name:         tc.Name,
		Type:         TypeConstantVUs,
		VUs:          tc.VUs,
		Duration:     time.Duration(tc.Duration),
		GracefulStop: time.Duration(tc.Options.GracefulStop),
	}
}

// CreateExecutorFromTestConfig creates and initializes the executor for a test.
func CreateExecutorFromTestConfig(ctx context.Context, tc *config.TestConfig) (Executor, *Config, error) {
	execConfig := ConfigFromTestConfig(tc)

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}
