package main

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// IPC commands understood by the daemon.
const (
	cmdConnect    = "connect"
	cmdSend       = "send"
	cmdStatus     = "status"
	cmdDisconnect = "disconnect"
	cmdDevices    = "devices"
)

// IPCRequest is sent from a client to the daemon.
type IPCRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`          // connect | send | status | disconnect | devices
	Device  string `json:"device,omitempty"` // MAC address, connect only
	Name    string `json:"name,omitempty"`   // device name or alias, connect only
	Token   string `json:"token,omitempty"`  // LEFT | RIGHT, send only
}

// IPCResponse is sent from the daemon back to the client.
type IPCResponse struct {
	ID        string    `json:"id"`
	State     ConnState `json:"state,omitempty"`
	Device    string    `json:"device,omitempty"` // MAC address of the active device
	Name      string    `json:"name,omitempty"`
	Devices   []Device  `json:"devices,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      string    `json:"kind,omitempty"` // see kindNames
}

func newRequestID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (r *IPCResponse) setStatus(st Status) {
	r.State = st.State
	r.LastError = st.LastError
	r.Since = st.Since
	if st.Device != nil {
		r.Device = st.Device.Address
		r.Name = st.Device.DisplayName()
	}
}

func (r *IPCResponse) setError(err error) {
	r.Error = err.Error()
	r.Kind = KindOf(err)
}

// status rebuilds the Status a response carries.
func (r IPCResponse) status() Status {
	st := Status{State: r.State, LastError: r.LastError, Since: r.Since}
	if r.Device != "" {
		st.Device = &Device{Address: r.Device, Name: r.Name}
	}
	return st
}

// err turns a failed response back into an error that matches the same kind
// the daemon saw.
func (r IPCResponse) err() error {
	if r.Error == "" {
		return nil
	}
	kind := kindFromString(r.Kind)
	if kind == nil {
		return errors.New(r.Error)
	}
	return &remoteError{msg: r.Error, kind: kind}
}

// remoteError carries the daemon's message verbatim and matches its kind.
type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Is(target error) bool { return target == e.kind }
