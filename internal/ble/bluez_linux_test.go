//go:build linux

package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestFindAdapter(t *testing.T) {
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {
			bluezAdapterIface: {"Address": dbus.MakeVariant("00:11:22:33:44:55")},
		},
		"/org/bluez/hci1": {
			bluezAdapterIface: {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
		},
		"/org/bluez/hci1/dev_11_22_33_44_55_66": {
			"org.bluez.Device1": {"Address": dbus.MakeVariant("aa:bb:cc:dd:ee:ff")},
		},
	}

	got, err := findAdapter(objects, "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("findAdapter() error = %v", err)
	}
	if got != "hci1" {
		t.Errorf("findAdapter() = %q, want hci1", got)
	}

	if _, err := findAdapter(objects, "de:ad:be:ef:00:00"); err == nil {
		t.Error("findAdapter() with unknown address should fail")
	}
}
