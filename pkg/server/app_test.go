package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "FinFusion/pkg/logger"
)

func TestAppRunsSetupThenComponents(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	a := New(applogger.Nop())
	a.Setup("seed", func(context.Context) error { record("seed"); return nil })
	a.Go("worker", func(ctx context.Context) error {
		record("worker")
		<-ctx.Done()
		return ctx.Err()
	})
	a.OnShutdown("first", func() error { record("close-first"); return nil })
	a.OnShutdown("second", func() error { record("close-second"); return errors.New("ignored") })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, []string{"seed", "worker", "close-second", "close-first"}, order)
}

func TestAppSetupFailureAborts(t *testing.T) {
	started := false
	closed := false
	a := New(applogger.Nop())
	a.Setup("migrate", func(context.Context) error { return errors.New("boom") })
	a.Go("worker", func(context.Context) error { started = true; return nil })
	a.OnShutdown("conn", func() error { closed = true; return nil })

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate")
	assert.False(t, started)
	assert.True(t, closed)
}

func TestAppComponentFailureStopsOthers(t *testing.T) {
	a := New(applogger.Nop())
	a.Go("flaky", func(context.Context) error { return errors.New("lost connection") })
	stopped := make(chan struct{})
	a.Go("steady", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")
	select {
	case <-stopped:
	default:
		t.Fatal("steady component was not stopped")
	}
}

func TestAppShutdownTimeout(t *testing.T) {
	a := New(applogger.Nop(), WithShutdownTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	a.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
