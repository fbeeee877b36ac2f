package main

import (
	"context"
	"fmt"
	"net"

	jsoniter "github.com/json-iterator/go"
)

// Client talks to a running daemon. Each call is one request on its own
// connection.
type Client struct {
	socket string
	log    Logger
}

func NewClient(socket string, log Logger) *Client {
	return &Client{socket: socket, log: log}
}

func (c *Client) call(ctx context.Context, req IPCRequest) (IPCResponse, error) {
	req.ID = newRequestID()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `slidectl daemon` running?)", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.log.Debugf("ipc %s %s", req.ID, req.Command)
	if err := jsoniter.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := jsoniter.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return IPCResponse{}, newOpError(req.Command, opKind(req.Command), ctx.Err())
		}
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	return resp, resp.err()
}

func (c *Client) Connect(ctx context.Context, sel Selector) (Status, error) {
	resp, err := c.call(ctx, IPCRequest{Command: cmdConnect, Device: sel.Address, Name: sel.Name})
	return resp.status(), err
}

func (c *Client) Send(ctx context.Context, cmd Command) error {
	_, err := c.call(ctx, IPCRequest{Command: cmdSend, Token: string(cmd)})
	return err
}

func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, IPCRequest{Command: cmdDisconnect})
	return err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.call(ctx, IPCRequest{Command: cmdStatus})
	return resp.status(), err
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	resp, err := c.call(ctx, IPCRequest{Command: cmdDevices})
	return resp.Devices, err
}
