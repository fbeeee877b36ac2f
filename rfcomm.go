package main

import (
	"fmt"
	"strings"
)

// rfcommDialer connects straight to an RFCOMM channel on the peer.
type rfcommDialer struct {
	channel uint8
}

// parseAddress converts "AA:BB:CC:DD:EE:FF" into a bdaddr, which the kernel
// stores least significant byte first.
func parseAddress(address string) ([6]byte, error) {
	var addr [6]byte
	var parts [6]int
	n, err := fmt.Sscanf(strings.ToUpper(address), "%02X:%02X:%02X:%02X:%02X:%02X",
		&parts[5], &parts[4], &parts[3], &parts[2], &parts[1], &parts[0])
	if err != nil || n != 6 || len(address) != 17 {
		return addr, fmt.Errorf("invalid bluetooth address %q", address)
	}
	for i := range parts {
		addr[i] = byte(parts[i])
	}
	return addr, nil
}
