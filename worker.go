package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var errWorkerStopped = errors.New("worker stopped")

// Controller is what the CLI and the UI drive. Worker implements it in
// process, Client implements it over the daemon socket.
type Controller interface {
	Connect(ctx context.Context, sel Selector) (Status, error)
	Send(ctx context.Context, cmd Command) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Devices(ctx context.Context) ([]Device, error)
}

// Result is delivered exactly once per queued request.
type Result struct {
	Status  Status
	Devices []Device
	Err     error
}

type job struct {
	op      string
	ctx     context.Context
	timeout time.Duration
	run     func(ctx context.Context) Result
	reply   chan Result
}

// Worker serializes all Bluetooth I/O on a single goroutine. Callers never
// block on the radio unless they use the blocking helpers.
type Worker struct {
	session        *Session
	log            Logger
	connectTimeout time.Duration
	writeTimeout   time.Duration

	jobs chan *job
	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopped  bool

	cancelMu      sync.Mutex
	cancelConnect context.CancelFunc
}

func NewWorker(s *Session, connectTimeout, writeTimeout time.Duration, log Logger) *Worker {
	w := &Worker{
		session:        s,
		log:            log,
		connectTimeout: connectTimeout,
		writeTimeout:   writeTimeout,
		jobs:           make(chan *job, 32),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			j.reply <- w.run(j)
		case <-w.quit:
			if err := w.session.Close(); err != nil {
				w.log.Warnf("close session: %v", err)
			}
			return
		}
	}
}

// run refuses jobs picked up after Stop began. The check shares cancelMu with
// cancelInFlight, so a connect is either refused or registered in time to be
// cancelled.
func (w *Worker) run(j *job) Result {
	ctx, cancel := context.WithTimeout(j.ctx, j.timeout)
	defer cancel()

	w.cancelMu.Lock()
	select {
	case <-w.quit:
		w.cancelMu.Unlock()
		return Result{Status: w.session.Status(), Err: stoppedError(j.op)}
	default:
	}
	if j.op == "connect" {
		w.cancelConnect = cancel
	}
	w.cancelMu.Unlock()

	if j.op == "connect" {
		defer func() {
			w.cancelMu.Lock()
			w.cancelConnect = nil
			w.cancelMu.Unlock()
		}()
	}
	return j.run(ctx)
}

func (w *Worker) drain() {
	for {
		select {
		case j := <-w.jobs:
			j.reply <- Result{Err: stoppedError(j.op)}
		default:
			return
		}
	}
}

func (w *Worker) submit(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) Result) <-chan Result {
	j := &job{op: op, ctx: ctx, timeout: timeout, run: fn, reply: make(chan Result, 1)}

	w.stopMu.RLock()
	defer w.stopMu.RUnlock()
	if w.stopped {
		j.reply <- Result{Err: stoppedError(op)}
		return j.reply
	}
	select {
	case w.jobs <- j:
	case <-w.quit:
		j.reply <- Result{Err: stoppedError(op)}
	case <-ctx.Done():
		j.reply <- Result{Err: newOpError(op, opKind(op), ctx.Err())}
	}
	return j.reply
}

func (w *Worker) cancelInFlight() {
	w.cancelMu.Lock()
	defer w.cancelMu.Unlock()
	if w.cancelConnect != nil {
		w.log.Debugf("cancelling in-flight connect")
		w.cancelConnect()
	}
}

func (w *Worker) connect(ctx context.Context, sel Selector) <-chan Result {
	return w.submit(ctx, "connect", w.connectTimeout, func(ctx context.Context) Result {
		_, err := w.session.Connect(ctx, sel)
		return Result{Status: w.session.Status(), Err: err}
	})
}

func (w *Worker) send(ctx context.Context, cmd Command) <-chan Result {
	return w.submit(ctx, "send", w.writeTimeout, func(ctx context.Context) Result {
		return Result{Err: w.session.Send(ctx, cmd)}
	})
}

func (w *Worker) disconnect(ctx context.Context) <-chan Result {
	w.cancelInFlight()
	return w.submit(ctx, "disconnect", w.writeTimeout, func(context.Context) Result {
		err := w.session.Close()
		if err != nil {
			w.log.Warnf("disconnect: %v", err)
		}
		return Result{Status: w.session.Status()}
	})
}

func (w *Worker) devices(ctx context.Context) <-chan Result {
	return w.submit(ctx, "devices", w.connectTimeout, func(ctx context.Context) Result {
		devices, err := w.session.Devices(ctx)
		return Result{Devices: devices, Err: err}
	})
}

func (w *Worker) ConnectAsync(sel Selector) <-chan Result {
	return w.connect(context.Background(), sel)
}

func (w *Worker) SendAsync(cmd Command) <-chan Result {
	return w.send(context.Background(), cmd)
}

func (w *Worker) DisconnectAsync() <-chan Result {
	return w.disconnect(context.Background())
}

func (w *Worker) DevicesAsync() <-chan Result {
	return w.devices(context.Background())
}

// Connect blocks until the connect job finishes. Cancelling ctx aborts the
// dial.
func (w *Worker) Connect(ctx context.Context, sel Selector) (Status, error) {
	r, err := await(ctx, "connect", w.connect(ctx, sel))
	return r.Status, err
}

func (w *Worker) Send(ctx context.Context, cmd Command) error {
	_, err := await(ctx, "send", w.send(ctx, cmd))
	return err
}

func (w *Worker) Disconnect(ctx context.Context) error {
	_, err := await(ctx, "disconnect", w.disconnect(ctx))
	return err
}

func (w *Worker) Devices(ctx context.Context) ([]Device, error) {
	r, err := await(ctx, "devices", w.devices(ctx))
	return r.Devices, err
}

// Status does not queue: the snapshot never touches the radio.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	w.stopMu.RLock()
	defer w.stopMu.RUnlock()
	if w.stopped {
		return Status{}, stoppedError("status")
	}
	return w.session.Status(), nil
}

// Lost forwards a BlueZ disconnect notice for address.
func (w *Worker) Lost(address string) {
	w.submit(context.Background(), "lost", w.writeTimeout, func(context.Context) Result {
		w.session.MarkLost(address)
		return Result{}
	})
}

// Stop refuses new requests, aborts any in-flight connect, closes the session
// and fails whatever was still queued. Safe to call twice.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })

	// Submitters blocked on a full queue have been released by quit, so the
	// write lock is only held briefly.
	w.stopMu.Lock()
	w.stopped = true
	w.stopMu.Unlock()

	w.cancelInFlight()
	<-w.done
	w.drain()
}

func await(ctx context.Context, op string, ch <-chan Result) (Result, error) {
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, newOpError(op, opKind(op), ctx.Err())
	}
}

func opKind(op string) error {
	switch op {
	case "connect":
		return ErrConnectFailure
	case "devices":
		return ErrNoDeviceFound
	case "send":
		return ErrWriteFailure
	}
	return ErrNotConnected
}

func stoppedError(op string) error {
	kind := ErrNotConnected
	if op == "connect" {
		kind = ErrConnectFailure
	}
	return newOpError(op, kind, errWorkerStopped)
}
