package main

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type fakeLink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	writes    int
	failNext  error
	short     bool
	closed    bool
	deadlines []time.Time
}

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if err := l.failNext; err != nil {
		l.failNext = nil
		return 0, err
	}
	if l.short {
		p = p[:len(p)-1]
	}
	return l.buf.Write(p)
}

func (l *fakeLink) SetWriteDeadline(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadlines = append(l.deadlines, t)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.buf.Bytes()...)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	calls   []Device
	links   []*fakeLink
	err     error
	blockOn chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dev)
	block, err := d.blockOn, d.err
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	link := &fakeLink{}
	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	return link, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDialer) lastLink() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

type fakeDirectory struct {
	devices []Device
	err     error
	calls   int
}

func (d *fakeDirectory) BondedDevices(ctx context.Context) ([]Device, error) {
	d.calls++
	return d.devices, d.err
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) Check(ctx context.Context) error {
	g.calls++
	return g.err
}

var (
	speaker = Device{Address: "AA:BB:CC:DD:EE:01", Name: "Speaker", Paired: true}
	clicker = Device{Address: "AA:BB:CC:DD:EE:02", Name: "Clicker", Paired: true, UUIDs: []string{SerialPortUUID}}
	laptop  = Device{Address: "AA:BB:CC:DD:EE:03", Name: "Laptop", Paired: true, UUIDs: []string{SerialPortUUID}}
)
