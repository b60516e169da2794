package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckerLifecycle(t *testing.T) {
	ctx := context.Background()
	checker := NewHealthChecker(time.Second)

	checker.RegisterCheck("always-ok", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("always-bad", func(ctx context.Context) error {
		return errors.New("backend down")
	})

	t.Run("individual checks", func(t *testing.T) {
		res, err := checker.Check(ctx, "always-ok")
		require.NoError(t, err)
		require.Equal(t, StatusHealthy, res.Status)

		res, err = checker.Check(ctx, "always-bad")
		require.NoError(t, err)
		require.Equal(t, StatusUnhealthy, res.Status)
		require.Contains(t, res.Message, "backend down")
	})

	t.Run("unknown check errors", func(t *testing.T) {
		_, err := checker.Check(ctx, "nope")
		require.Error(t, err)
	})

	t.Run("overall status reflects worst check", func(t *testing.T) {
		require.Equal(t, StatusUnhealthy, checker.GetOverallStatus(ctx))

		sys := checker.GetSystemHealth(ctx)
		require.Len(t, sys.Checks, 2)
		require.Equal(t, StatusUnhealthy, sys.Status)
	})
}

func TestStorageHealthCheck(t *testing.T) {
	ctx := context.Background()

	check := StorageHealthCheck(func(ctx context.Context) error { return nil })
	require.NoError(t, check(ctx))

	check = StorageHealthCheck(nil)
	require.Error(t, check(ctx))
}

func TestNutRegistryHealthCheck(t *testing.T) {
	ctx := context.Background()

	check := NutRegistryHealthCheck(func(ctx context.Context) (int64, error) { return 42, nil })
	require.NoError(t, check(ctx))

	check = NutRegistryHealthCheck(func(ctx context.Context) (int64, error) {
		return 0, errors.New("store offline")
	})
	require.Error(t, check(ctx))
}
