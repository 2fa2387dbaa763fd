package scheduler

import (
	"testing"
	"time"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/stretchr/testify/require"
)

func TestPoolSubmitAwaitRunsTask(t *testing.T) {
	b := newFakeBackend(2)
	pool, err := NewPool(b, 2)
	require.Nil(t, err)
	defer pool.Shutdown()

	var ran bool
	require.Nil(t, pool.Submit(0, func() *arborerr.Error { ran = true; return nil }))
	require.Nil(t, pool.Await(0))
	require.True(t, ran)
}

func TestPoolSubmitWhileInFlightFails(t *testing.T) {
	b := newFakeBackend(1)
	pool, err := NewPool(b, 1)
	require.Nil(t, err)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.Nil(t, pool.Submit(0, func() *arborerr.Error {
		<-release
		return nil
	}))
	// Give the worker a chance to pick the task up before the second submit.
	time.Sleep(5 * time.Millisecond)
	err2 := pool.Submit(0, func() *arborerr.Error { return nil })
	require.NotNil(t, err2)
	close(release)
	require.Nil(t, pool.Await(0))
}

func TestPoolPoisonsDeviceOnTaskError(t *testing.T) {
	b := newFakeBackend(1)
	pool, err := NewPool(b, 1)
	require.Nil(t, err)
	defer pool.Shutdown()

	kernelErr := arborerr.Runtime("boom", nil, "fake kernel")
	require.Nil(t, pool.Submit(0, func() *arborerr.Error { return kernelErr }))
	awaitErr := pool.Await(0)
	require.NotNil(t, awaitErr)

	// A subsequent submit to the same (poisoned) device fails fast without
	// ever running.
	var ran bool
	submitErr := pool.Submit(0, func() *arborerr.Error { ran = true; return nil })
	require.NotNil(t, submitErr)
	require.False(t, ran)
}

func TestNewPoolCapsAtBackendDeviceCount(t *testing.T) {
	b := newFakeBackend(2)
	pool, err := NewPool(b, 8)
	require.Nil(t, err)
	defer pool.Shutdown()
	require.Equal(t, 2, pool.N())
}

func TestNewPoolRejectsZeroDevices(t *testing.T) {
	b := newFakeBackend(0)
	_, err := NewPool(b, 1)
	require.NotNil(t, err)
}

var _ backend.Backend = (*fakeBackend)(nil)
