//go:build linux

package ble

import (
	"fmt"
	"path"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
)

// ResolveAdapterID returns the HCI id (for example "hci0") of the local
// adapter with the given MAC address.
func ResolveAdapterID(address string) (string, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return "", fmt.Errorf("ble: connect to system bus: %w", err)
	}

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := conn.Object(bluezBusName, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return "", fmt.Errorf("ble: get managed objects: %w", err)
	}
	return findAdapter(objects, address)
}

func findAdapter(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, address string) (string, error) {
	for objPath, interfaces := range objects {
		props, ok := interfaces[bluezAdapterIface]
		if !ok {
			continue
		}
		v, ok := props["Address"]
		if !ok {
			continue
		}
		if addr, ok := v.Value().(string); ok && strings.EqualFold(addr, address) {
			return path.Base(string(objPath)), nil
		}
	}
	return "", fmt.Errorf("ble: no adapter with address %s", address)
}
