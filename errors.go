package main

import (
	"github.com/pkg/errors"
)

// Error kinds. Every failure surfaced to a caller matches exactly one of these
// through errors.Is.
var (
	ErrPermissionDenied = errors.New("bluetooth permission denied")
	ErrNoDeviceFound    = errors.New("no bonded device found")
	ErrAmbiguousDevice  = errors.New("more than one bonded device, pick one explicitly")
	ErrConnectFailure   = errors.New("connection failed")
	ErrWriteFailure     = errors.New("failed to send command")
	ErrNotConnected     = errors.New("not connected")
	ErrBusy             = errors.New("connect already in progress")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrPermissionDenied, "permission_denied"},
	{ErrNoDeviceFound, "no_device_found"},
	{ErrAmbiguousDevice, "ambiguous_device"},
	{ErrConnectFailure, "connect_failure"},
	{ErrWriteFailure, "write_failure"},
	{ErrNotConnected, "not_connected"},
	{ErrBusy, "busy"},
}

// OpError ties a failed operation to its error kind and underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func newOpError(op string, kind, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *OpError) Is(target error) bool { return target == e.Kind }

func (e *OpError) Unwrap() error { return e.Err }

// KindOf returns the wire name of err's kind, or "" if err has none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}

func kindFromString(name string) error {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind
		}
	}
	return nil
}
