package main

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, f *sessionFixture, connectTimeout time.Duration) *Worker {
	t.Helper()
	w := NewWorker(f.s, connectTimeout, time.Second, discardLogger())
	t.Cleanup(w.Stop)
	return w
}

func recv(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func TestWorkerRunsJobsInOrder(t *testing.T) {
	f := newSessionFixture(clicker)
	w := newTestWorker(t, f, time.Second)

	conn := w.ConnectAsync(Selector{})
	left := w.SendAsync(CommandLeft)
	right := w.SendAsync(CommandRight)

	r := recv(t, conn)
	require.NoError(t, r.Err)
	assert.Equal(t, StateConnected, r.Status.State)
	require.NoError(t, recv(t, left).Err)
	require.NoError(t, recv(t, right).Err)
	assert.Equal(t, "LEFTRIGHT", string(f.dialer.lastLink().written()))
}

func TestWorkerBlockingAPI(t *testing.T) {
	f := newSessionFixture(clicker)
	w := newTestWorker(t, f, time.Second)
	ctx := context.Background()

	devices, err := w.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Device{clicker}, devices)

	st, err := w.Connect(ctx, Selector{Name: "Clicker"})
	require.NoError(t, err)
	require.NotNil(t, st.Device)
	assert.Equal(t, clicker.Address, st.Device.Address)

	require.NoError(t, w.Send(ctx, CommandRight))
	require.NoError(t, w.Disconnect(ctx))

	st, err = w.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, st.State)
	assert.True(t, errors.Is(w.Send(ctx, CommandLeft), ErrNotConnected))
}

func TestWorkerConnectTimeout(t *testing.T) {
	f := newSessionFixture(clicker)
	f.dialer.blockOn = make(chan struct{})
	w := newTestWorker(t, f, 20*time.Millisecond)

	r := recv(t, w.ConnectAsync(Selector{}))
	assert.True(t, errors.Is(r.Err, ErrConnectFailure))
	assert.True(t, errors.Is(r.Err, context.DeadlineExceeded))
	assert.Equal(t, StateDisconnected, r.Status.State)
}

func TestWorkerDisconnectCancelsConnect(t *testing.T) {
	f := newSessionFixture(clicker)
	f.dialer.blockOn = make(chan struct{})
	w := newTestWorker(t, f, time.Minute)

	conn := w.ConnectAsync(Selector{})
	require.Eventually(t, func() bool { return f.dialer.callCount() == 1 }, time.Second, time.Millisecond)

	disc := w.DisconnectAsync()
	r := recv(t, conn)
	assert.True(t, errors.Is(r.Err, context.Canceled))
	require.NoError(t, recv(t, disc).Err)
	assert.Equal(t, StateDisconnected, f.s.Status().State)
}

func TestWorkerCallerCancelAbortsConnect(t *testing.T) {
	f := newSessionFixture(clicker)
	f.dialer.blockOn = make(chan struct{})
	w := newTestWorker(t, f, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.Connect(ctx, Selector{})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.dialer.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, ErrConnectFailure))
	require.Eventually(t, func() bool { return f.s.Status().State == StateDisconnected }, time.Second, time.Millisecond)
}

func TestWorkerStop(t *testing.T) {
	f := newSessionFixture(clicker)
	w := NewWorker(f.s, time.Second, time.Second, discardLogger())

	_, err := w.Connect(context.Background(), Selector{})
	require.NoError(t, err)
	link := f.dialer.lastLink()

	w.Stop()
	w.Stop()
	assert.True(t, link.isClosed())

	r := recv(t, w.SendAsync(CommandLeft))
	assert.True(t, errors.Is(r.Err, errWorkerStopped))
	assert.True(t, errors.Is(r.Err, ErrNotConnected))

	_, err = w.Connect(context.Background(), Selector{})
	assert.True(t, errors.Is(err, ErrConnectFailure))
	_, err = w.Status(context.Background())
	assert.True(t, errors.Is(err, errWorkerStopped))
}

func TestWorkerStopCancelsInFlightConnect(t *testing.T) {
	f := newSessionFixture(clicker)
	f.dialer.blockOn = make(chan struct{})
	w := NewWorker(f.s, time.Minute, time.Second, discardLogger())

	conn := w.ConnectAsync(Selector{})
	require.Eventually(t, func() bool { return f.dialer.callCount() == 1 }, time.Second, time.Millisecond)

	w.Stop()
	r := recv(t, conn)
	assert.True(t, errors.Is(r.Err, ErrConnectFailure))
	assert.Equal(t, StateDisconnected, f.s.Status().State)
}

func TestWorkerStopRefusesQueuedWork(t *testing.T) {
	f := newSessionFixture(clicker)
	f.dialer.blockOn = make(chan struct{})
	w := NewWorker(f.s, time.Minute, time.Second, discardLogger())

	first := w.ConnectAsync(Selector{})
	require.Eventually(t, func() bool { return f.dialer.callCount() == 1 }, time.Second, time.Millisecond)
	second := w.ConnectAsync(Selector{})
	send := w.SendAsync(CommandLeft)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited on a queued connect")
	}

	assert.True(t, errors.Is(recv(t, first).Err, ErrConnectFailure))
	r := recv(t, second)
	assert.True(t, errors.Is(r.Err, errWorkerStopped))
	assert.True(t, errors.Is(r.Err, ErrConnectFailure))
	assert.True(t, errors.Is(recv(t, send).Err, errWorkerStopped))
	assert.Equal(t, 1, f.dialer.callCount())
}

func TestWorkerLost(t *testing.T) {
	f := newSessionFixture(clicker)
	w := newTestWorker(t, f, time.Second)

	_, err := w.Connect(context.Background(), Selector{})
	require.NoError(t, err)

	w.Lost(clicker.Address)
	require.Eventually(t, func() bool { return f.s.Status().State == StateDisconnected }, time.Second, time.Millisecond)
	assert.True(t, f.dialer.lastLink().isClosed())
}
