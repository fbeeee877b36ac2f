package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// serialDialer talks to a peer through an RFCOMM TTY created with
// `rfcomm bind`, e.g. /dev/rfcomm0. The kernel connects on open.
type serialDialer struct {
	port     string
	baudRate uint

	open func(serial.OpenOptions) (io.ReadWriteCloser, error)
}

func (d *serialDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := serial.OpenOptions{
		PortName:        d.port,
		BaudRate:        d.baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	open := d.open
	if open == nil {
		open = serial.Open
	}

	type result struct {
		rwc io.ReadWriteCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rwc, err := open(opts)
		ch <- result{rwc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "can't open %s for %s", d.port, dev.Address)
		}
		return &serialLink{rwc: r.rwc}, nil
	case <-ctx.Done():
		// Opening a bound TTY blocks until the kernel connects; release the port
		// if it shows up after we gave up.
		go func() {
			if r := <-ch; r.err == nil {
				r.rwc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// serialLink adds write deadlines to a port that has none by racing each
// write against a timer. A write that times out may still complete later.
type serialLink struct {
	rwc io.ReadWriteCloser

	mu       sync.Mutex
	deadline time.Time
}

func (l *serialLink) SetWriteDeadline(t time.Time) error {
	l.mu.Lock()
	l.deadline = t
	l.mu.Unlock()
	return nil
}

func (l *serialLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	deadline := l.deadline
	l.mu.Unlock()

	if deadline.IsZero() {
		n, err := l.rwc.Write(p)
		return n, errors.Wrap(err, "can't write serial port")
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		return 0, os.ErrDeadlineExceeded
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := l.rwc.Write(p)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.n, errors.Wrap(r.err, "can't write serial port")
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	}
}

func (l *serialLink) Close() error {
	return errors.Wrap(l.rwc.Close(), "can't close serial port")
}
