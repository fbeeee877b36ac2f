package main

import (
	"fmt"
	"strings"
)

// Selector names the peer to connect to. With both fields empty, a device is
// only picked when the choice is unambiguous.
type Selector struct {
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (s Selector) String() string {
	switch {
	case s.Address != "":
		return s.Address
	case s.Name != "":
		return fmt.Sprintf("%q", s.Name)
	}
	return "any bonded device"
}

// Pick chooses one device out of the bonded set.
func (s Selector) Pick(devices []Device) (Device, error) {
	if s.Address != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Address, s.Address) {
				return d, nil
			}
		}
		return Device{}, newOpError("select", ErrNoDeviceFound, fmt.Errorf("%s is not bonded", s.Address))
	}

	if s.Name != "" {
		var matches []Device
		for _, d := range devices {
			if strings.EqualFold(d.Name, s.Name) || strings.EqualFold(d.Alias, s.Name) {
				matches = append(matches, d)
			}
		}
		return only(matches, fmt.Sprintf("named %q", s.Name))
	}

	if len(devices) == 0 {
		return Device{}, newOpError("select", ErrNoDeviceFound, nil)
	}
	var spp []Device
	for _, d := range devices {
		if d.SupportsSerialPort() {
			spp = append(spp, d)
		}
	}
	if len(spp) > 0 {
		return only(spp, "with a serial port")
	}
	return only(devices, "")
}

func only(devices []Device, what string) (Device, error) {
	switch len(devices) {
	case 0:
		return Device{}, newOpError("select", ErrNoDeviceFound, fmt.Errorf("no bonded device %s", what))
	case 1:
		return devices[0], nil
	}
	addrs := make([]string, len(devices))
	for i, d := range devices {
		addrs[i] = d.Address
	}
	return Device{}, newOpError("select", ErrAmbiguousDevice, fmt.Errorf("candidates: %s", strings.Join(addrs, ", ")))
}
