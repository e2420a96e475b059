// Package bt provides the Bluetooth Low Energy capability the train service
// consumes: a Governor that discovers devices and hands out per-device and
// per-characteristic governors.
//
// Two implementations exist. BTManager drives a real adapter through
// tinygo.org/x/bluetooth; Simulator hosts in-process LEGO-style hubs.
package bt

import "strings"

// LEGO Wireless Protocol hub service and its single read/write/notify characteristic.
const (
	HubServiceUUID        = "00001623-1212-efde-1623-785feabcd123"
	HubCharacteristicUUID = "00001624-1212-efde-1623-785feabcd123"
)

// DiscoveredDevice is a peripheral seen while scanning.
type DiscoveredDevice struct {
	Address string
	Name    string
	RSSI    int16
}

// Governor is the entry point into the BLE stack.
type Governor interface {
	// Start brings up the adapter and begins discovering devices.
	Start() error
	// AdapterName identifies the adapter in use.
	AdapterName() string
	// DiscoveredDevices returns every device seen so far.
	DiscoveredDevices() []DiscoveredDevice
	// ListenToDiscovery registers a callback for devices seen from now on.
	// Returns a deregistration function.
	ListenToDiscovery(callback func(DiscoveredDevice)) func()
	// DeviceGovernor returns the governor for address, creating it if needed.
	DeviceGovernor(address string) DeviceGovernor
	// CharacteristicGovernor returns the governor for a characteristic of the
	// device at address. Acquiring it turns on connection control for the device.
	CharacteristicGovernor(address, serviceUUID, characteristicUUID string) CharacteristicGovernor
	// Shutdown disconnects everything and stops discovery.
	Shutdown()
}

// DeviceGovernor controls the connection to one peripheral.
type DeviceGovernor interface {
	Address() string
	// SetConnectionControl asks the governor to establish and keep (true) or
	// drop (false) the connection.
	SetConnectionControl(connect bool)
}

// CharacteristicGovernor wraps one GATT characteristic of a governed device.
type CharacteristicGovernor interface {
	IsReady() bool
	IsWritable() bool
	Write(data []byte) error
	// AddValueListener registers a notification callback and returns the
	// function that removes it.
	AddValueListener(callback func(value []byte)) func()
	// Ready returns a channel that is closed once the current connection
	// session has resolved the characteristic and enabled notifications.
	Ready() <-chan struct{}
}

// NormalizeAddress returns the canonical upper-case form of a MAC address string.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
