package bluez

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/securacv/btctl/internal/adapter"
)

// agentReplyTimeout bounds how long an agent method blocks waiting for the
// daemon's pairing decision. Longer than the daemon's own pairing window
// so the daemon always decides first.
const agentReplyTimeout = 90 * time.Second

// agent is the exported org.bluez.Agent1 object. bluetoothd calls its
// methods during pairing exchanges; decisions are deferred by blocking the
// method call until the daemon answers through PairingResponse.
type agent struct {
	conn  *dbus.Conn
	stack *BluezStack
	path  dbus.ObjectPath

	mu            sync.Mutex
	pending       map[string]chan bool
	lastDisplayed map[string]uint32
}

func newAgent(conn *dbus.Conn, stack *BluezStack) *agent {
	return &agent{
		conn:          conn,
		stack:         stack,
		path:          dbus.ObjectPath(agentPath),
		pending:       make(map[string]chan bool),
		lastDisplayed: make(map[string]uint32),
	}
}

// register exports the agent and installs it as the default agent with
// DisplayYesNo capability: the device shows a PIN, the operator confirms.
func (a *agent) register() error {
	if err := a.conn.Export(a, a.path, bluezAgentIface); err != nil {
		return err
	}

	node := &introspect.Node{
		Name: agentPath,
		Interfaces: []introspect.Interface{
			{
				Name:    bluezAgentIface,
				Methods: introspect.Methods(a),
			},
		},
	}
	if err := a.conn.Export(introspect.NewIntrospectable(node), a.path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	obj := a.conn.Object(bluezBus, dbus.ObjectPath(bluezRootPath))
	if err := obj.Call(bluezAgentManager+".RegisterAgent", 0, a.path, "DisplayYesNo").Err; err != nil {
		return err
	}
	return obj.Call(bluezAgentManager+".RequestDefaultAgent", 0, a.path).Err
}

// unregister removes the agent from bluetoothd. Best effort during shutdown.
func (a *agent) unregister() {
	obj := a.conn.Object(bluezBus, dbus.ObjectPath(bluezRootPath))
	if err := obj.Call(bluezAgentManager+".UnregisterAgent", 0, a.path).Err; err != nil {
		log.Printf("bluez: agent unregister: %v", err)
	}
	a.resolveAll(false)
}

// respond delivers the daemon's decision to the exchange blocked for the
// peer, if one is pending.
func (a *agent) respond(address string, accept bool) error {
	key := strings.ToUpper(address)

	a.mu.Lock()
	decision, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pairing exchange pending for %s", address)
	}
	decision <- accept
	return nil
}

// resolveAll rejects every blocked exchange.
func (a *agent) resolveAll(accept bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, decision := range a.pending {
		decision <- accept
		delete(a.pending, key)
	}
}

// await registers a decision channel for the peer and blocks until the
// daemon answers or the reply window lapses.
func (a *agent) await(address string) bool {
	key := strings.ToUpper(address)
	decision := make(chan bool, 1)

	a.mu.Lock()
	if stale, ok := a.pending[key]; ok {
		stale <- false
	}
	a.pending[key] = decision
	a.mu.Unlock()

	select {
	case accept := <-decision:
		return accept
	case <-time.After(agentReplyTimeout):
		a.mu.Lock()
		if a.pending[key] == decision {
			delete(a.pending, key)
		}
		a.mu.Unlock()
		log.Printf("bluez: pairing decision for %s timed out", address)
		return false
	}
}

// peerName reads the name bluetoothd holds for the device, best effort.
func (a *agent) peerName(device dbus.ObjectPath) string {
	props := a.stack.deviceProperties(device)
	if props == nil {
		return ""
	}
	if v, ok := props["Name"]; ok {
		if name, ok := v.Value().(string); ok {
			return name
		}
	}
	if v, ok := props["Alias"]; ok {
		if alias, ok := v.Value().(string); ok {
			return alias
		}
	}
	return ""
}

// Release is called when bluetoothd replaces or shuts down the agent.
func (a *agent) Release() *dbus.Error {
	log.Println("bluez: agent released")
	a.resolveAll(false)
	return nil
}

// RequestConfirmation asks the operator to confirm a numeric comparison.
// The call blocks until the daemon answers or the window lapses.
func (a *agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	address, ok := addressFromPath(a.stack.adapterPath, device)
	if !ok {
		return dbus.NewError(bluezErrRejected, nil)
	}

	a.stack.emit(adapter.PairingRequestEvent{
		Address: address,
		Name:    a.peerName(device),
		Passkey: fmt.Sprintf("%06d", passkey),
	})

	if !a.await(address) {
		return dbus.NewError(bluezErrRejected, nil)
	}
	return nil
}

// RequestAuthorization covers just-works pairing with no passkey to show.
func (a *agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	address, ok := addressFromPath(a.stack.adapterPath, device)
	if !ok {
		return dbus.NewError(bluezErrRejected, nil)
	}

	a.stack.emit(adapter.PairingRequestEvent{
		Address: address,
		Name:    a.peerName(device),
	})

	if !a.await(address) {
		return dbus.NewError(bluezErrRejected, nil)
	}
	return nil
}

// DisplayPasskey surfaces the passkey the peer is entering. bluetoothd
// repeats the call as digits arrive; only the first is forwarded.
func (a *agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	address, ok := addressFromPath(a.stack.adapterPath, device)
	if !ok {
		return dbus.NewError(bluezErrRejected, nil)
	}

	a.mu.Lock()
	last, seen := a.lastDisplayed[strings.ToUpper(address)]
	a.lastDisplayed[strings.ToUpper(address)] = passkey
	a.mu.Unlock()
	if seen && last == passkey {
		return nil
	}

	a.stack.emit(adapter.PairingRequestEvent{
		Address: address,
		Name:    a.peerName(device),
		Passkey: fmt.Sprintf("%06d", passkey),
	})
	return nil
}

// DisplayPinCode surfaces a legacy pin display request.
func (a *agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	address, ok := addressFromPath(a.stack.adapterPath, device)
	if !ok {
		return dbus.NewError(bluezErrRejected, nil)
	}

	a.stack.emit(adapter.PairingRequestEvent{
		Address: address,
		Name:    a.peerName(device),
		Passkey: pincode,
	})
	return nil
}

// RequestPinCode rejects legacy keyboard pairing; the device has no input
// surface for entering a peer-chosen code.
func (a *agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(bluezErrRejected, nil)
}

// RequestPasskey rejects keyboard passkey entry for the same reason.
func (a *agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, dbus.NewError(bluezErrRejected, nil)
}

// AuthorizeService allows profile connections from peers that completed
// pairing; bluetoothd only asks for devices that are not yet trusted.
func (a *agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

// Cancel voids the in-flight exchange. The link drop that follows arrives
// as a separate Connected=false signal.
func (a *agent) Cancel() *dbus.Error {
	log.Println("bluez: pairing exchange cancelled by peer")
	a.resolveAll(false)
	return nil
}
