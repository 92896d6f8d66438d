package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
)

func TestNewExecutor(t *testing.T) {
	exec, err := executor.NewExecutor(executor.TypeConstantVUs)
	require.NoError(t, err)
	assert.Equal(t, executor.TypeConstantVUs, exec.Type())

	assert.IsType(t, &executor.ConstantVUs{}, exec)

	for _, typ := range []executor.Type{"", "ramping-vus", "constant-arrival-rate"} {
		_, err := executor.NewExecutor(typ)
		assert.Error(t, err, typ)
	}
}

func TestCreateAndInitExecutor(t *testing.T) {
	_, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type: executor.TypeConstantVUs,
	})
	assert.Error(t, err)

	var verr *executor.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "vus", verr.Field)
}

func TestCreateExecutorFromTestConfig(t *testing.T) {
	tc := config.Default()
	tc.Options.GracefulStop = config.Duration(2 * time.Second)

	exec, execConfig, err := executor.CreateExecutorFromTestConfig(context.Background(), tc)
	require.NoError(t, err)
	assert.NotNil(t, exec)
	assert.Equal(t, &executor.Config{
		Name:         "stress",
		Type:         executor.TypeConstantVUs,
		VUs:          10,
		Duration:     10 * time.Second,
		GracefulStop: 2 * time.Second,
	}, execConfig)

	tc.VUs = 0
	_, _, err = executor.CreateExecutorFromTestConfig(context.Background(), tc)
	assert.Error(t, err)
}
