package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const ipcReadTimeout = 5 * time.Second

// daemon serves IPC requests against the process-wide Controller. It never
// touches the connection handle itself.
type daemon struct {
	ctl Controller
	log Logger
}

func (d *daemon) handleRequest(ctx context.Context, req IPCRequest) IPCResponse {
	resp := IPCResponse{ID: req.ID}
	log := d.log.ChildLogger(map[string]interface{}{"req": req.ID, "cmd": req.Command})
	log.Debugf("request")

	var err error
	switch req.Command {
	case cmdStatus:
		var st Status
		if st, err = d.ctl.Status(ctx); err == nil {
			resp.setStatus(st)
		}

	case cmdConnect:
		var st Status
		st, err = d.ctl.Connect(ctx, Selector{Address: req.Device, Name: req.Name})
		resp.setStatus(st)

	case cmdSend:
		var cmd Command
		if cmd, err = ParseCommand(req.Token); err != nil {
			break
		}
		err = d.ctl.Send(ctx, cmd)

	case cmdDisconnect:
		err = d.ctl.Disconnect(ctx)

	case cmdDevices:
		resp.Devices, err = d.ctl.Devices(ctx)

	default:
		err = fmt.Errorf("unknown command: %q", req.Command)
	}

	if err != nil {
		log.Warnf("%v", err)
		resp.setError(err)
	}
	return resp
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(ipcReadTimeout))
	var req IPCRequest
	if err := jsoniter.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		jsoniter.NewEncoder(conn).Encode(resp)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadDeadline(time.Time{})
	go watchHangup(conn, cancel)

	resp := d.handleRequest(ctx, req)
	if err := jsoniter.NewEncoder(conn).Encode(resp); err != nil {
		d.log.Debugf("write response %s: %v", req.ID, err)
	}
}

// watchHangup cancels once the client closes its end. A client sends a
// single request per connection, so any read result means it is gone.
func watchHangup(conn net.Conn, cancel context.CancelFunc) {
	var b [1]byte
	conn.Read(b[:])
	cancel()
}

// serve accepts connections until ln is closed.
func (d *daemon) serve(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				d.log.Errorf("accept: %v", err)
			}
			return
		}
		go d.handleConn(ctx, conn)
	}
}

// listenUnix replaces a stale socket at path and restricts it to the owner.
func listenUnix(path string) (net.Listener, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return ln, nil
}

// watchDisconnects reports devices BlueZ saw drop off to lost.
func watchDisconnects(adapterPath dbus.ObjectPath, sigCh <-chan *dbus.Signal, lost func(string), log Logger) {
	for sig := range sigCh {
		mac, ok := disconnectedDevice(adapterPath, sig)
		if !ok {
			continue
		}
		log.Debugf("bluez reports %s disconnected", mac)
		lost(mac)
	}
}

// newController builds the in-process Bluetooth stack: BlueZ directory and
// permission gate, transport, session and the I/O worker.
func newController(cfg *Config, log Logger) (*Worker, *bluez, error) {
	bz, err := newBluez(cfg.Adapter)
	if err != nil {
		return nil, nil, err
	}
	dialer, err := newDialer(cfg)
	if err != nil {
		bz.close()
		return nil, nil, err
	}
	session := NewSession(bz, bz, dialer, log)
	w := NewWorker(session, cfg.ConnectTimeout, cfg.WriteTimeout, log)

	go watchDisconnects(bz.adapterPath, bz.subscribePropertyChanges(), w.Lost, log)
	return w, bz, nil
}

func runDaemon(cfg *Config, log Logger) error {
	w, bz, err := newController(cfg, log)
	if err != nil {
		return err
	}
	defer bz.close()
	defer w.Stop()

	sock := socketPath(cfg)
	ln, err := listenUnix(sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Infof("shutting down")
		ln.Close()
	}()

	d := &daemon{ctl: w, log: log}
	log.Infof("listening on %s", sock)
	d.serve(ctx, ln)
	return nil
}
