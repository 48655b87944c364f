package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthProbe_BecomesHealthyAfterRecoveryThreshold(t *testing.T) {
	cfg := domain.HealthCheckConfig{RecoveryThreshold: 2, FailureThreshold: 3}
	probe := NewHealthProbe(cfg, func(ctx context.Context) error { return nil }, zerolog.Nop())

	probe.runOnce()
	assert.Equal(t, HealthUnknown, probe.Snapshot().Status, "one success below the recovery threshold should not yet mark healthy")

	probe.runOnce()
	assert.Equal(t, HealthHealthy, probe.Snapshot().Status)
}

func TestHealthProbe_BecomesUnhealthyAfterFailureThreshold(t *testing.T) {
	cfg := domain.HealthCheckConfig{RecoveryThreshold: 1, FailureThreshold: 2}
	probeErr := errors.New("probe failed")
	probe := NewHealthProbe(cfg, func(ctx context.Context) error { return probeErr }, zerolog.Nop())

	probe.runOnce()
	assert.Equal(t, HealthDegraded, probe.Snapshot().Status, "first failure from Unknown should degrade, not yet unhealthy")

	probe.runOnce()
	assert.Equal(t, HealthUnhealthy, probe.Snapshot().Status)
	assert.Equal(t, 2, probe.Snapshot().ConsecutiveFailures)
}

func TestHealthProbe_SuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := domain.HealthCheckConfig{RecoveryThreshold: 1, FailureThreshold: 5}
	fail := true
	probe := NewHealthProbe(cfg, func(ctx context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}, zerolog.Nop())

	probe.runOnce()
	probe.runOnce()
	require.Equal(t, 2, probe.Snapshot().ConsecutiveFailures)

	fail = false
	probe.runOnce()
	assert.Equal(t, 0, probe.Snapshot().ConsecutiveFailures)
	assert.Equal(t, HealthHealthy, probe.Snapshot().Status)
}

func TestHealthProbe_AdaptiveScalingShortensIntervalOnFailure(t *testing.T) {
	cfg := domain.HealthCheckConfig{
		FailureThreshold:  5,
		CheckIntervalS:    16,
		MinCheckIntervalS: 1,
		AdaptiveScaling:   true,
	}
	probe := NewHealthProbe(cfg, func(ctx context.Context) error { return errors.New("boom") }, zerolog.Nop())

	initial := probe.Snapshot().CheckInterval
	probe.runOnce()
	assert.Less(t, probe.Snapshot().CheckInterval, initial)
}

func TestHealthProbe_AdaptiveScalingLengthensIntervalOnSuccess(t *testing.T) {
	cfg := domain.HealthCheckConfig{
		RecoveryThreshold: 1,
		CheckIntervalS:    1,
		MaxCheckIntervalS: 60,
		AdaptiveScaling:   true,
	}
	probe := NewHealthProbe(cfg, func(ctx context.Context) error { return nil }, zerolog.Nop())

	initial := probe.Snapshot().CheckInterval
	probe.runOnce()
	assert.Greater(t, probe.Snapshot().CheckInterval, initial)
}

func TestHealthProbe_AdaptiveIntervalCapsAtMax(t *testing.T) {
	cfg := domain.HealthCheckConfig{
		RecoveryThreshold: 1,
		CheckIntervalS:    1,
		MaxCheckIntervalS: 4,
		AdaptiveScaling:   true,
	}
	probe := NewHealthProbe(cfg, func(ctx context.Context) error { return nil }, zerolog.Nop())

	for i := 0; i < 10; i++ {
		probe.runOnce()
	}
	assert.LessOrEqual(t, probe.Snapshot().CheckInterval, 4*time.Second)
}

func TestHealthProbe_StartStopRunsAtLeastOneProbe(t *testing.T) {
	calls := make(chan struct{}, 4)
	cfg := domain.HealthCheckConfig{RecoveryThreshold: 1, CheckIntervalS: 10}
	probe := NewHealthProbe(cfg, func(ctx context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}, zerolog.Nop())

	probe.Start()
	defer probe.Stop()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected Start to run an immediate initial probe")
	}
}
