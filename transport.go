package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// SerialPortUUID is the Serial Port Profile service class.
const SerialPortUUID = "00001101-0000-1000-8000-00805f9b34fb"

var ErrUnsupportedPlatform = errors.New("rfcomm sockets are only supported on linux")

// Link is an open byte stream to one peer. It is owned by a single Session.
type Link interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Link to a bonded device.
type Dialer interface {
	Dial(ctx context.Context, dev Device) (Link, error)
}

func newDialer(cfg *Config) (Dialer, error) {
	switch cfg.Transport {
	case TransportRFCOMM:
		return &rfcommDialer{channel: uint8(cfg.Channel)}, nil
	case TransportSerial:
		return &serialDialer{port: cfg.SerialPort, baudRate: uint(cfg.BaudRate)}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
