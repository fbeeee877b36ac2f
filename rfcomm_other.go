//go:build !linux

package main

import "context"

func (d *rfcommDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	return nil, ErrUnsupportedPlatform
}
