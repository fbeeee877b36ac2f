package main

import (
	"context"
	"io"
	"time"
)

// Send writes cmd to link in a single write. A context deadline becomes the
// link's write deadline. Failures never close the link.
func Send(ctx context.Context, link Link, cmd Command) error {
	if link == nil {
		return newOpError("send", ErrNotConnected, nil)
	}
	if !cmd.Valid() {
		return newOpError("send", ErrWriteFailure, ErrUnknownCommand)
	}
	if err := ctx.Err(); err != nil {
		return newOpError("send", ErrWriteFailure, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		if err := link.SetWriteDeadline(dl); err == nil {
			defer link.SetWriteDeadline(time.Time{})
		}
	}

	payload := cmd.Bytes()
	n, err := link.Write(payload)
	if err == nil && n != len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return newOpError("send", ErrWriteFailure, err)
	}
	return nil
}
