// Package bluez implements IRadioStack on the BlueZ D-Bus API.
//
// Architecture References:
//   - Architecture §3: "Southbound IRadioStack port"
//   - Architecture §4.1: "Driver error normalization (driver table: bluez)"
//
// The driver talks to bluetoothd over the system bus: adapter control via
// org.bluez.Adapter1 properties, discovery via StartDiscovery and
// ObjectManager signals, advertising via an exported LEAdvertisement1
// object, and pairing via an exported Agent1 with DisplayYesNo capability.
// Asynchronous bus signals are translated into StackEvents.
package bluez
