package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWithoutCheckersIsHealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Check(context.Background())

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Empty(t, resp.Checks)
}

func TestCheckAggregatesComponentFailure(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(PingChecker{ComponentName: "redis", Ping: func(context.Context) error {
		return errors.New("connection refused")
	}})
	m.Register(PingChecker{ComponentName: "self", Ping: func(context.Context) error { return nil }})

	resp := m.Check(context.Background())

	require.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["redis"].Status)
	assert.Contains(t, resp.Checks["redis"].Error, "connection refused")
	assert.Equal(t, StatusHealthy, resp.Checks["self"].Status)
}

func TestCheckAllHealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(PingChecker{ComponentName: "redis", Ping: func(context.Context) error { return nil }})

	resp := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
}
