package bluez

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/securacv/btctl/internal/adapter"
)

// run translates bus signals into StackEvents until the signal channel
// closes.
func (s *BluezStack) run() {
	defer close(s.loopDone)

	for sig := range s.signals {
		switch sig.Name {
		case dbusObjectManager + ".InterfacesAdded":
			s.handleInterfacesAdded(sig)
		case dbusPropertiesFace + ".PropertiesChanged":
			s.handlePropertiesChanged(sig)
		case "org.freedesktop.DBus.NameOwnerChanged":
			s.handleNameOwnerChanged(sig)
		}
	}
}

// handleInterfacesAdded surfaces newly discovered peers while a scan is
// running.
func (s *BluezStack) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	interfaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := interfaces[bluezDeviceIface]
	if !ok {
		return
	}
	if !strings.HasPrefix(string(path), string(s.adapterPath)+"/") {
		return
	}

	s.mu.Lock()
	scanning := s.scanning
	s.mu.Unlock()
	if !scanning {
		return
	}

	if ev, ok := peerFromProperties(props); ok {
		s.emit(ev)
	}
}

// handlePropertiesChanged tracks link state and scan RSSI updates from
// Device1 property signals.
func (s *BluezStack) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != bluezDeviceIface {
		return
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	address, ok := addressFromPath(s.adapterPath, sig.Path)
	if !ok {
		return
	}

	if v, found := changes["Connected"]; found {
		connected, _ := v.Value().(bool)
		if connected {
			s.handlePeerConnected(sig.Path, address)
		} else {
			s.handlePeerDisconnected(address)
		}
		return
	}

	if _, found := changes["RSSI"]; found {
		s.mu.Lock()
		scanning := s.scanning
		s.mu.Unlock()
		if !scanning {
			return
		}
		if props := s.deviceProperties(sig.Path); props != nil {
			if ev, ok := peerFromProperties(props); ok {
				s.emit(ev)
			}
		}
	}
}

func (s *BluezStack) handlePeerConnected(path dbus.ObjectPath, address string) {
	ev := adapter.ConnectedEvent{Address: address, Security: "none"}
	if props := s.deviceProperties(path); props != nil {
		ev.Name = propString(props, "Name", propString(props, "Alias", ""))
		ev.RSSI = int(propInt16(props, "RSSI", 0))
		ev.Security = linkSecurity(props)
	}
	s.emit(ev)
}

func (s *BluezStack) handlePeerDisconnected(address string) {
	key := strings.ToUpper(address)

	s.mu.Lock()
	reason := "peer"
	if s.localDrops[key] {
		reason = "local"
		delete(s.localDrops, key)
	}
	s.mu.Unlock()

	s.emit(adapter.DisconnectedEvent{Address: address, Reason: reason})
}

// handleNameOwnerChanged reports loss of bluetoothd as a driver fault.
func (s *BluezStack) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	newOwner, ok := sig.Body[2].(string)
	if !ok || newOwner != "" {
		return
	}
	s.emit(adapter.FaultEvent{Err: errors.New("bluetoothd left the system bus")})
}

// devicePath builds the bluetoothd object path for a peer address.
func devicePath(adapterPath dbus.ObjectPath, address string) dbus.ObjectPath {
	formatted := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapterPath, formatted))
}

// addressFromPath recovers the peer address from a device object path
// under the bound adapter.
func addressFromPath(adapterPath, path dbus.ObjectPath) (string, bool) {
	prefix := string(adapterPath) + "/dev_"
	raw := strings.TrimPrefix(string(path), prefix)
	if raw == string(path) || raw == "" || strings.Contains(raw, "/") {
		return "", false
	}
	return strings.ReplaceAll(raw, "_", ":"), true
}

// peerFromProperties builds a discovery event from Device1 properties.
func peerFromProperties(props map[string]dbus.Variant) (adapter.PeerDiscoveredEvent, bool) {
	address := propString(props, "Address", "")
	if address == "" {
		return adapter.PeerDiscoveredEvent{}, false
	}

	uuids := propStrings(props, "UUIDs")
	for i, u := range uuids {
		uuids[i] = strings.ToLower(u)
	}

	return adapter.PeerDiscoveredEvent{
		Address:      address,
		Name:         propString(props, "Name", propString(props, "Alias", "")),
		RSSI:         int(propInt16(props, "RSSI", 0)),
		Appearance:   propUint16(props, "Appearance", 0),
		Connectable:  true,
		ServiceUUIDs: uuids,
	}, true
}

// linkSecurity derives the security level bluetoothd exposes for a link.
// The D-Bus API distinguishes bonded and paired; authenticated pairing is
// reported by the daemon's own pairing flow instead.
func linkSecurity(props map[string]dbus.Variant) string {
	if propBool(props, "Bonded", false) {
		return "bonded"
	}
	if propBool(props, "Paired", false) {
		return "encrypted"
	}
	return "none"
}

func propString(props map[string]dbus.Variant, key, fallback string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return fallback
}

func propBool(props map[string]dbus.Variant, key string, fallback bool) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return fallback
}

func propInt16(props map[string]dbus.Variant, key string, fallback int16) int16 {
	if v, ok := props[key]; ok {
		if n, ok := v.Value().(int16); ok {
			return n
		}
	}
	return fallback
}

func propUint16(props map[string]dbus.Variant, key string, fallback uint16) uint16 {
	if v, ok := props[key]; ok {
		if n, ok := v.Value().(uint16); ok {
			return n
		}
	}
	return fallback
}

func propStrings(props map[string]dbus.Variant, key string) []string {
	if v, ok := props[key]; ok {
		if list, ok := v.Value().([]string); ok {
			return list
		}
	}
	return nil
}
