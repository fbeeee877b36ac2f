//go:build linux

package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollSlice bounds how long a pending connect waits between context checks.
const pollSlice = 100 // ms

func (d *rfcommDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	addr, err := parseAddress(dev.Address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, errors.Wrap(err, "can't create rfcomm socket")
	}

	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: d.channel}
	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
	case errors.Is(err, unix.EINPROGRESS):
		if err := waitConnected(ctx, fd); err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "can't connect to %s channel %d", dev.Address, d.channel)
		}
	default:
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't connect to %s channel %d", dev.Address, d.channel)
	}

	// The fd is non-blocking, so the file is registered with the runtime
	// poller and honours write deadlines.
	f := os.NewFile(uintptr(fd), "rfcomm:"+dev.Address)
	return &rfcommLink{f: f}, nil
}

func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		timeout := pollSlice
		if dl, ok := ctx.Deadline(); ok {
			if left := int(time.Until(dl) / time.Millisecond); left < timeout {
				timeout = max(left, 1)
			}
		}

		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfds, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return errors.Wrap(err, "getsockopt")
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

type rfcommLink struct {
	f *os.File
}

func (l *rfcommLink) Write(p []byte) (int, error) {
	n, err := l.f.Write(p)
	return n, errors.Wrap(err, "can't write rfcomm socket")
}

func (l *rfcommLink) SetWriteDeadline(t time.Time) error {
	return l.f.SetWriteDeadline(t)
}

func (l *rfcommLink) Close() error {
	return errors.Wrap(l.f.Close(), "can't close rfcomm socket")
}
