package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/SebastienMelki/appgate/internal/observability"
)

type countingCounter struct {
	metric.Int64Counter
	count atomic.Int64
}

func (c *countingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.count.Add(incr)
}

func TestService_EmptyKeyNeverDuplicate(t *testing.T) {
	svc := New(time.Minute, 1000, 0.001, nil, nil)
	assert.False(t, svc.IsDuplicate(""))
	assert.False(t, svc.IsDuplicate(""))
}

func TestService_CountsDrops(t *testing.T) {
	metrics, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	counter := &countingCounter{}
	metrics.DedupDropped = counter

	svc := New(time.Minute, 1000, 0.001, metrics, nil)

	assert.False(t, svc.IsDuplicate("k"))
	assert.Equal(t, int64(0), counter.count.Load())
	assert.True(t, svc.IsDuplicate("k"))
	assert.True(t, svc.IsDuplicate("k"))
	assert.Equal(t, int64(2), counter.count.Load())
}

func TestService_RotationExpiresKeys(t *testing.T) {
	svc := New(40*time.Millisecond, 1000, 0.0001, nil, nil)
	svc.IsDuplicate("k")

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return svc.Generations() >= 2 },
		2*time.Second, 5*time.Millisecond)
	assert.False(t, svc.IsDuplicate("k"))
}

func TestService_StopIsIdempotent(t *testing.T) {
	svc := New(time.Minute, 1000, 0.001, nil, nil)
	svc.Stop()

	started := New(time.Minute, 1000, 0.001, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	started.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		started.Stop()
		started.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
