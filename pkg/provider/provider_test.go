package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgeworks/stampede/pkg/types"
)

func TestIsThrottled(t *testing.T) {
	assert.True(t, IsThrottled(throttledError{}))
	assert.True(t, IsThrottled(fmt.Errorf("create failed: %w", throttledError{})))
	assert.False(t, IsThrottled(errors.New("access denied")))
	assert.False(t, IsThrottled(nil))
}

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake(nil)

	id, err := f.Create(ctx, CreateSpec{GroupName: "run_x-worker-0"})
	require.NoError(t, err)

	st, err := f.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)

	st, err = f.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	st, err = f.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)

	assert.Equal(t, 1, f.Live())
	require.NoError(t, f.Delete(ctx, id))
	assert.Equal(t, 0, f.Live())
}

func TestFakeThrottling(t *testing.T) {
	ctx := context.Background()
	f := NewFake(func(string) Script {
		return Script{ThrottleCreates: 2, PollsUntilRunning: 1, PollsUntilDone: 1}
	})

	spec := CreateSpec{GroupName: "run_x-worker-0"}
	_, err := f.Create(ctx, spec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProviderThrottled))
	assert.True(t, IsThrottled(err))

	_, err = f.Create(ctx, spec)
	require.Error(t, err)

	id, err := f.Create(ctx, spec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, f.CreateCalls)
}

func TestFakeOnRunningFiresOnce(t *testing.T) {
	ctx := context.Background()
	fired := 0
	f := NewFake(func(string) Script {
		return Script{PollsUntilRunning: 0, PollsUntilDone: 3, OnRunning: func() { fired++ }}
	})

	id, err := f.Create(ctx, CreateSpec{GroupName: "run_x-worker-0"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		st, err := f.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateRunning, st.State)
	}
	assert.Equal(t, 1, fired)
}
