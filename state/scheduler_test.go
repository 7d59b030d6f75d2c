package state

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestEnv(t *testing.T, clk clock.Clock) (*Env, *State, chan func(*State) error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dispatchChan := make(chan func(*State) error, 10)
	env := &Env{
		DispatchChannel: dispatchChan,
		Context:         ctx,
		Cancel: func(err error) {
			cancel()
		},
		Clock: clk,
	}
	return env, &State{Env: env}, dispatchChan, cancel
}

func TestDispatch(t *testing.T) {
	env, state, dispatchChan, cancel := newTestEnv(t, nil)
	defer cancel()

	var called bool
	env.Dispatch(func(s *State) error {
		called = true
		return nil
	})

	select {
	case f := <-dispatchChan:
		require.NoError(t, f(state))
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timed out waiting for dispatched function")
	}
	assert.True(t, called)
}

func TestDispatchWait(t *testing.T) {
	env, state, dispatchChan, cancel := newTestEnv(t, nil)
	defer cancel()

	go func() {
		f := <-dispatchChan
		_ = f(state)
	}()

	res, err := env.DispatchWait(func(s *State) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestDispatchWaitCancelled(t *testing.T) {
	env, _, _, cancel := newTestEnv(t, nil)
	cancel()

	_, err := env.DispatchWait(func(s *State) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduleTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	mock := clock.NewMock()
	env, state, dispatchChan, cancel := newTestEnv(t, mock)
	defer cancel()

	var taskCalled bool
	env.ScheduleTask(func(s *State) error {
		taskCalled = true
		return nil
	}, 50*time.Millisecond)

	mock.Add(49 * time.Millisecond)
	select {
	case <-dispatchChan:
		t.Fatal("task dispatched before its delay elapsed")
	default:
	}

	mock.Add(time.Millisecond)
	select {
	case f := <-dispatchChan:
		require.NoError(t, f(state))
	case <-time.After(time.Second):
		t.Fatal("No task was scheduled")
	}
	assert.True(t, taskCalled)
}

func TestRepeatTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	mock := clock.NewMock()
	env, state, dispatchChan, cancel := newTestEnv(t, mock)
	defer cancel()

	var count int
	env.RepeatTask(func(s *State) error {
		count++
		return nil
	}, 50*time.Millisecond)

	for count < 3 {
		select {
		case f := <-dispatchChan:
			require.NoError(t, f(state))
			mock.Add(50 * time.Millisecond)
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for RepeatTask to execute")
		}
	}
	cancel()
	assert.Equal(t, 3, count)
	// let the repeating goroutine observe the cancellation
	time.Sleep(10 * time.Millisecond)
}
