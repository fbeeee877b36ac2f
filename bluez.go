package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	busName         = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propsIface      = "org.freedesktop.DBus.Properties"
	propsSignal     = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objectManager   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	errAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
	errUnknownObj   = "org.freedesktop.DBus.Error.UnknownObject"
)

// permissionErrors are D-Bus error names that mean the caller may not use
// the adapter.
var permissionErrors = map[string]bool{
	errAccessDenied:                 true,
	"org.bluez.Error.NotAuthorized": true,
	"org.bluez.Error.NotPermitted":  true,
}

// Device is a bonded peer as reported by BlueZ.
type Device struct {
	Address   string   `json:"address"`
	Name      string   `json:"name,omitempty"`
	Alias     string   `json:"alias,omitempty"`
	Paired    bool     `json:"paired"`
	Connected bool     `json:"connected"`
	UUIDs     []string `json:"uuids,omitempty"`
}

// SupportsSerialPort reports whether the device advertises the Serial Port Profile.
func (d Device) SupportsSerialPort() bool {
	for _, u := range d.UUIDs {
		if strings.EqualFold(u, SerialPortUUID) {
			return true
		}
	}
	return false
}

// DisplayName prefers the user-set alias over the remote name.
func (d Device) DisplayName() string {
	switch {
	case d.Alias != "":
		return d.Alias
	case d.Name != "":
		return d.Name
	}
	return d.Address
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapterPath dbus.ObjectPath, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapterPath) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return ""
	}
	return strings.ReplaceAll(rest, "_", ":")
}

func dbusErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return ""
}

func classifyDBusError(err error) error {
	if err == nil {
		return nil
	}
	if permissionErrors[dbusErrorName(err)] {
		return newOpError("bluez", ErrPermissionDenied, err)
	}
	return err
}

// bluez wraps a system D-Bus connection for BlueZ operations.
type bluez struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, classifyDBusError(errors.Wrap(err, "connect to system bus"))
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, classifyDBusError(errors.Wrap(err, "list bus names"))
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &bluez{conn: conn, adapterPath: dbus.ObjectPath("/org/bluez/" + adapter)}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

// --- property helpers ---

func (b *bluez) getProp(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.CallWithContext(ctx, propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bluez) getBool(ctx context.Context, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(ctx, path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// --- adapter ---

func (b *bluez) adapterPowered(ctx context.Context) (bool, error) {
	return b.getBool(ctx, b.adapterPath, adapterIface, "Powered")
}

// Check implements PermissionGate. Reading an adapter property is the cheapest
// call that the bus policy guards.
func (b *bluez) Check(ctx context.Context) error {
	_, err := b.adapterPowered(ctx)
	if err == nil {
		return nil
	}
	if permissionErrors[dbusErrorName(err)] {
		return newOpError("permission", ErrPermissionDenied, err)
	}
	// A missing adapter is a discovery problem, reported by BondedDevices.
	return nil
}

// --- devices ---

// BondedDevices implements Directory.
func (b *bluez) BondedDevices(ctx context.Context) ([]Device, error) {
	powered, err := b.adapterPowered(ctx)
	if err != nil {
		if dbusErrorName(err) == errUnknownObj {
			return nil, newOpError("devices", ErrNoDeviceFound, fmt.Errorf("adapter %s not found", b.adapterPath))
		}
		return nil, classifyDBusError(errors.Wrap(err, "read adapter state"))
	}
	if !powered {
		return nil, newOpError("devices", ErrNoDeviceFound, fmt.Errorf("adapter %s is powered off", b.adapterPath))
	}

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := b.conn.Object(busName, "/")
	if err := obj.CallWithContext(ctx, objectManager, 0).Store(&objects); err != nil {
		return nil, classifyDBusError(errors.Wrap(err, "get managed objects"))
	}
	return devicesFromObjects(b.adapterPath, objects), nil
}

// devicesFromObjects picks the bonded devices of one adapter out of a
// GetManagedObjects reply, sorted by address.
func devicesFromObjects(adapterPath dbus.ObjectPath, objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []Device {
	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || macFromPath(adapterPath, path) == "" {
			continue
		}
		dev := Device{
			Address:   stringProp(props, "Address"),
			Name:      stringProp(props, "Name"),
			Alias:     stringProp(props, "Alias"),
			Paired:    boolProp(props, "Paired") || boolProp(props, "Bonded"),
			Connected: boolProp(props, "Connected"),
		}
		if dev.Address == "" {
			dev.Address = macFromPath(adapterPath, path)
		}
		if v, ok := props["UUIDs"]; ok {
			dev.UUIDs, _ = v.Value().([]string)
		}
		if dev.Paired {
			devices = append(devices, dev)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		s, _ := v.Value().(string)
		return s
	}
	return ""
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		b, _ := v.Value().(bool)
		return b
	}
	return false
}

// --- signal subscription ---

func (b *bluez) subscribePropertyChanges() chan *dbus.Signal {
	b.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}

// disconnectedDevice returns the MAC of a device whose Connected property
// flipped to false, if sig reports one.
func disconnectedDevice(adapterPath dbus.ObjectPath, sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != propsSignal {
		return "", false
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return "", false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	connVar, ok := changed["Connected"]
	if !ok {
		return "", false
	}
	connected, ok := connVar.Value().(bool)
	if !ok || connected {
		return "", false
	}
	mac := macFromPath(adapterPath, sig.Path)
	return mac, mac != ""
}
