package dispose

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispose_CloseRunsHandlersOnce(t *testing.T) {
	var d Dispose
	var calls atomic.Int32
	d.SetCtx(context.Background(), func() error {
		calls.Add(1)
		return nil
	})
	d.AddCleanHandler(func() error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, d.IsClosed())
	assert.Error(t, d.Ctx().Err(), "ctx should be cancelled after Close")
}

func TestDispose_HandlerErrorsAreJoined(t *testing.T) {
	var d Dispose
	errA := errors.New("a")
	errB := errors.New("b")
	d.AddCleanHandler(func() error { return errA })
	d.AddCleanHandler(func() error { return nil })
	d.AddCleanHandler(func() error { return errB })

	err := d.Close()
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, err, d.Close())
}

func TestDispose_ParentCancelTriggersCleanup(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	var d Dispose
	cleaned := make(chan struct{})
	d.SetCtx(parent, func() error {
		close(cleaned)
		return nil
	})

	cancel()

	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("cleanup not triggered by parent cancel")
	}
	assert.Eventually(t, d.IsClosed, time.Second, 5*time.Millisecond)
}

func TestDispose_SetCtxTwiceIgnored(t *testing.T) {
	var d Dispose
	d.SetCtx(context.Background(), nil)
	first := d.Ctx()
	d.SetCtx(context.Background(), nil)
	assert.Equal(t, first, d.Ctx())
	require.NoError(t, d.Close())
}
