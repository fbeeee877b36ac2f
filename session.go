package main

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ConnState is the state of the connection handle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

var errPeerGone = errors.New("peer disconnected")

// Directory lists the devices bonded with the local adapter.
type Directory interface {
	BondedDevices(ctx context.Context) ([]Device, error)
}

// PermissionGate decides whether this process may use Bluetooth at all. A
// non-nil error means access is denied.
type PermissionGate interface {
	Check(ctx context.Context) error
}

// Status is a snapshot of a Session.
type Status struct {
	State     ConnState `json:"state"`
	Device    *Device   `json:"device,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Session owns the single connection handle. Only one link exists at a time
// and nothing outside the Session touches it.
type Session struct {
	dir    Directory
	gate   PermissionGate
	dialer Dialer
	log    Logger

	mu      sync.Mutex
	state   ConnState
	device  *Device
	link    Link
	lastErr error
	since   time.Time
}

func NewSession(dir Directory, gate PermissionGate, dialer Dialer, log Logger) *Session {
	return &Session{
		dir:    dir,
		gate:   gate,
		dialer: dialer,
		log:    log,
		state:  StateDisconnected,
		since:  time.Now(),
	}
}

// Devices lists bonded devices, subject to the permission gate.
func (s *Session) Devices(ctx context.Context) ([]Device, error) {
	if err := s.checkPermission(ctx, "devices"); err != nil {
		return nil, err
	}
	devices, err := s.dir.BondedDevices(ctx)
	if err != nil {
		return nil, classify("devices", err, ErrNoDeviceFound)
	}
	return devices, nil
}

// Connect selects a bonded device and opens a link to it. Nothing is dialed
// unless permission is granted and selection yields exactly one device.
func (s *Session) Connect(ctx context.Context, sel Selector) (Device, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		s.fail(err)
		return Device{}, rename(err, "connect")
	}
	dev, err := sel.Pick(devices)
	if err != nil {
		s.fail(err)
		return Device{}, err
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.mu.Unlock()
		return Device{}, newOpError("connect", ErrBusy, nil)
	case StateConnected:
		if strings.EqualFold(s.device.Address, dev.Address) {
			cur := *s.device
			s.mu.Unlock()
			return cur, nil
		}
		s.log.Infof("switching from %s to %s, closing old link", s.device.Address, dev.Address)
		if err := s.link.Close(); err != nil {
			s.log.Warnf("close %s: %v", s.device.Address, err)
		}
		s.link = nil
	}
	s.setState(StateConnecting, &dev)
	s.mu.Unlock()

	s.log.Infof("connecting to %s (%s)", dev.Address, dev.DisplayName())
	link, err := s.dialer.Dial(ctx, dev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		kind := ErrConnectFailure
		if errors.Is(err, os.ErrPermission) || errors.Is(err, ErrPermissionDenied) {
			kind = ErrPermissionDenied
		}
		err = newOpError("connect", kind, err)
		if s.state == StateConnecting {
			s.setState(StateDisconnected, nil)
		}
		s.lastErr = err
		s.log.Warnf("connect %s: %v", dev.Address, err)
		return Device{}, err
	}
	if s.state != StateConnecting {
		// Closed while dialing.
		link.Close()
		err = newOpError("connect", ErrConnectFailure, context.Canceled)
		s.lastErr = err
		return Device{}, err
	}
	s.link = link
	s.lastErr = nil
	s.setState(StateConnected, &dev)
	s.log.Infof("connected to %s", dev.Address)
	return dev, nil
}

// Send writes cmd on the live link. A failed write leaves the link open.
func (s *Session) Send(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	link, state := s.link, s.state
	s.mu.Unlock()

	if state != StateConnected {
		err := newOpError("send", ErrNotConnected, nil)
		s.fail(err)
		return err
	}

	err := Send(ctx, link, cmd)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.log.Warnf("send %s: %v", cmd, err)
		return err
	}
	s.log.Debugf("sent %s", cmd)
	return nil
}

// Close drops the link and returns to disconnected. Closing a session that is
// still dialing makes the pending Connect discard its link.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := s.link
	s.link = nil
	if s.state != StateDisconnected {
		s.setState(StateDisconnected, nil)
	}
	if link == nil {
		return nil
	}
	return link.Close()
}

// MarkLost handles the peer going away underneath us.
func (s *Session) MarkLost(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || !strings.EqualFold(s.device.Address, address) {
		return
	}
	s.log.Warnf("%s disconnected", address)
	if err := s.link.Close(); err != nil {
		s.log.Debugf("close %s: %v", address, err)
	}
	s.link = nil
	s.lastErr = errPeerGone
	s.setState(StateDisconnected, nil)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, Since: s.since}
	if s.device != nil {
		dev := *s.device
		st.Device = &dev
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// setState must be called with s.mu held.
func (s *Session) setState(state ConnState, dev *Device) {
	s.state = state
	s.device = dev
	s.since = time.Now()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Warnf("%v", err)
}

func (s *Session) checkPermission(ctx context.Context, op string) error {
	if err := s.gate.Check(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return newOpError(op, ErrPermissionDenied, err)
	}
	return nil
}

// classify keeps an existing error kind or assigns fallback.
func classify(op string, err error, fallback error) error {
	if KindOf(err) != "" {
		return err
	}
	return newOpError(op, fallback, err)
}

func rename(err error, op string) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return &OpError{Op: op, Kind: oe.Kind, Err: oe.Err}
	}
	return err
}
