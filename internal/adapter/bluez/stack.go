package bluez

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/securacv/btctl/internal/adapter"
)

// Tx power bounds the driver accepts, matching the radio hardware.
const (
	minTxPowerDbm = -12
	maxTxPowerDbm = 9
)

// Options configures the BlueZ driver.
type Options struct {
	// Adapter is the controller name to bind, e.g. "hci0".
	// Empty selects the first adapter bluetoothd reports.
	Adapter string
}

// BluezStack implements adapter.IRadioStack against bluetoothd.
//
// Commands are synchronous D-Bus calls; connection, pairing, and discovery
// outcomes arrive as bus signals and are surfaced through Events().
type BluezStack struct {
	adapter.StackBase

	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	agent       *agent

	mu            sync.Mutex
	txPower       int
	advertised    bool
	scanning      bool
	localDrops    map[string]bool
	events        chan adapter.StackEvent
	signals       chan *dbus.Signal
	closed        bool
	closeOnce     sync.Once
	loopDone      chan struct{}
	advProperties *advertisement
}

// NewBluezStack connects to the system bus, binds the adapter, registers
// the pairing agent, and starts the signal translation loop.
func NewBluezStack(opts Options) (*BluezStack, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	adapterPath, err := findAdapter(conn, opts.Adapter)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &BluezStack{
		StackBase: adapter.StackBase{
			Driver: "bluez",
			Status: "online",
		},
		conn:        conn,
		adapterPath: adapterPath,
		txPower:     0,
		localDrops:  make(map[string]bool),
		events:      make(chan adapter.StackEvent, 64),
		signals:     make(chan *dbus.Signal, 32),
		loopDone:    make(chan struct{}),
	}

	s.agent = newAgent(conn, s)
	if err := s.agent.register(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register pairing agent: %w", err)
	}

	if err := s.addSignalMatches(); err != nil {
		conn.Close()
		return nil, err
	}
	conn.Signal(s.signals)
	go s.run()

	return s, nil
}

// findAdapter locates the adapter object path, preferring the named
// controller when one is configured.
func findAdapter(conn *dbus.Conn, name string) (dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := conn.Object(bluezBus, "/")
	if err := obj.Call(dbusObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return "", normalize(fmt.Errorf("failed to get managed objects: %w", err))
	}

	var first dbus.ObjectPath
	for path, interfaces := range objects {
		if _, hasAdapter := interfaces[bluezAdapterIface]; !hasAdapter {
			continue
		}
		if name != "" && string(path) == bluezRootPath+"/"+name {
			return path, nil
		}
		if first == "" || path < first {
			first = path
		}
	}

	if name != "" {
		return "", normalize(fmt.Errorf("NoSuchAdapter: controller %s not present", name))
	}
	if first == "" {
		return "", normalize(fmt.Errorf("NoSuchAdapter: no bluetooth controller present"))
	}
	return first, nil
}

func (s *BluezStack) addSignalMatches() error {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchSender(bluezBus),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return fmt.Errorf("failed to add InterfacesAdded match: %w", err)
	}

	if err := s.conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusPropertiesFace),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(bluezRootPath),
	); err != nil {
		return fmt.Errorf("failed to add PropertiesChanged match: %w", err)
	}

	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, bluezBus),
	); err != nil {
		return fmt.Errorf("failed to add NameOwnerChanged match: %w", err)
	}

	return nil
}

// PowerOn brings the controller up and makes it pairable so the agent
// can receive exchanges once a pairing window opens.
func (s *BluezStack) PowerOn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.setAdapterProperty("Powered", true); err != nil {
		return err
	}
	if err := s.setAdapterProperty("Pairable", true); err != nil {
		return err
	}
	// Pairing windows are opened and closed by the daemon, not bluetoothd.
	return s.setAdapterProperty("PairableTimeout", uint32(0))
}

// PowerOff tears the controller down. bluetoothd drops advertising,
// discovery, and open links itself when Powered clears.
func (s *BluezStack) PowerOff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.advertised = false
	s.scanning = false
	s.mu.Unlock()
	s.unexportAdvertisement()
	return s.setAdapterProperty("Powered", false)
}

// SetDeviceName sets the controller alias used in advertisements and
// pairing dialogs on the peer.
func (s *BluezStack) SetDeviceName(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.setAdapterProperty("Alias", name)
}

// SetTxPower records the requested power for the next advertising set.
// BlueZ has no adapter-wide setter on the D-Bus API; the value rides on
// the LEAdvertisement1 object instead.
func (s *BluezStack) SetTxPower(ctx context.Context, dbm int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dbm < minTxPowerDbm || dbm > maxTxPowerDbm {
		return normalize(fmt.Errorf("OUT_OF_RANGE: tx power %d is outside valid range [%d, %d]",
			dbm, minTxPowerDbm, maxTxPowerDbm))
	}
	s.mu.Lock()
	s.txPower = dbm
	s.mu.Unlock()
	return nil
}

// StartAdvertising exports the advertisement object, registers it with
// bluetoothd, and makes the controller discoverable.
func (s *BluezStack) StartAdvertising(ctx context.Context, params adapter.AdvertisingParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.advertised {
		s.mu.Unlock()
		return nil
	}
	txPower := s.txPower
	if params.TxPowerDbm != 0 {
		txPower = params.TxPowerDbm
	}
	s.mu.Unlock()

	adv, err := exportAdvertisement(s.conn, params, txPower)
	if err != nil {
		return err
	}

	obj := s.conn.Object(bluezBus, s.adapterPath)
	call := obj.Call(bluezLEAdvManager+".RegisterAdvertisement", 0,
		dbus.ObjectPath(advPath), map[string]dbus.Variant{})
	if call.Err != nil {
		unexportAdvertisement(s.conn)
		return normalize(call.Err)
	}

	if err := s.setAdapterProperty("Discoverable", true); err != nil {
		log.Printf("bluez: discoverable not set: %v", err)
	}

	s.mu.Lock()
	s.advertised = true
	s.advProperties = adv
	s.mu.Unlock()
	return nil
}

// StopAdvertising unregisters the advertisement. Safe when not advertising.
func (s *BluezStack) StopAdvertising(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	wasAdvertised := s.advertised
	s.advertised = false
	s.advProperties = nil
	s.mu.Unlock()
	if !wasAdvertised {
		return nil
	}

	obj := s.conn.Object(bluezBus, s.adapterPath)
	call := obj.Call(bluezLEAdvManager+".UnregisterAdvertisement", 0, dbus.ObjectPath(advPath))
	s.unexportAdvertisement()
	if err := s.setAdapterProperty("Discoverable", false); err != nil {
		log.Printf("bluez: discoverable not cleared: %v", err)
	}
	if call.Err != nil {
		return normalize(call.Err)
	}
	return nil
}

func (s *BluezStack) unexportAdvertisement() {
	unexportAdvertisement(s.conn)
}

// StartScan begins LE discovery. Peers surface as PeerDiscoveredEvents
// from InterfacesAdded and RSSI property signals.
func (s *BluezStack) StartScan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := s.conn.Object(bluezBus, s.adapterPath)

	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(false),
	}
	if call := obj.Call(bluezAdapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		// Older bluetoothd rejects the filter; discovery still works unfiltered.
		log.Printf("bluez: discovery filter not set: %v", call.Err)
	}

	if call := obj.Call(bluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		return normalize(call.Err)
	}

	s.mu.Lock()
	s.scanning = true
	s.mu.Unlock()

	// Devices bluetoothd already knows about produce no InterfacesAdded
	// signal, so replay the cached object tree once.
	go s.replayKnownPeers()
	return nil
}

// StopScan ends LE discovery. Safe when not scanning.
func (s *BluezStack) StopScan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	wasScanning := s.scanning
	s.scanning = false
	s.mu.Unlock()
	if !wasScanning {
		return nil
	}

	obj := s.conn.Object(bluezBus, s.adapterPath)
	if call := obj.Call(bluezAdapterIface+".StopDiscovery", 0); call.Err != nil {
		return normalize(call.Err)
	}
	return nil
}

// Disconnect drops the link to the peer. The resulting Connected=false
// property signal is attributed to a local decision.
func (s *BluezStack) Disconnect(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.localDrops[strings.ToUpper(address)] = true
	s.mu.Unlock()

	obj := s.conn.Object(bluezBus, devicePath(s.adapterPath, address))
	if call := obj.Call(bluezDeviceIface+".Disconnect", 0); call.Err != nil {
		s.mu.Lock()
		delete(s.localDrops, strings.ToUpper(address))
		s.mu.Unlock()
		return normalize(call.Err)
	}
	return nil
}

// PairingResponse resolves the agent exchange blocked for this peer.
func (s *BluezStack) PairingResponse(ctx context.Context, address string, accept bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.agent.respond(address, accept)
}

// RemoveBond deletes the bluetoothd device object and its stored keys.
func (s *BluezStack) RemoveBond(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := s.conn.Object(bluezBus, s.adapterPath)
	call := obj.Call(bluezAdapterIface+".RemoveDevice", 0, devicePath(s.adapterPath, address))
	if call.Err != nil {
		// Removing a bond that bluetoothd never stored is not a failure.
		if strings.Contains(call.Err.Error(), "DoesNotExist") {
			return nil
		}
		return normalize(call.Err)
	}
	return nil
}

// Events returns the stream of translated bus signals.
func (s *BluezStack) Events() <-chan adapter.StackEvent {
	return s.events
}

// Close unregisters the agent, stops signal translation, and closes the
// event stream.
func (s *BluezStack) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.agent.unregister()
		s.unexportAdvertisement()

		s.conn.RemoveSignal(s.signals)
		close(s.signals)
		<-s.loopDone

		s.conn.Close()
		close(s.events)
	})
	return nil
}

// setAdapterProperty writes one Adapter1 property.
func (s *BluezStack) setAdapterProperty(name string, value interface{}) error {
	obj := s.conn.Object(bluezBus, s.adapterPath)
	call := obj.Call(dbusPropertiesFace+".Set", 0,
		bluezAdapterIface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return normalize(call.Err)
	}
	return nil
}

// deviceProperties reads all Device1 properties for a peer, nil when the
// object is gone.
func (s *BluezStack) deviceProperties(path dbus.ObjectPath) map[string]dbus.Variant {
	obj := s.conn.Object(bluezBus, path)
	props := make(map[string]dbus.Variant)
	if err := obj.Call(dbusPropertiesFace+".GetAll", 0, bluezDeviceIface).Store(&props); err != nil {
		return nil
	}
	return props
}

// replayKnownPeers re-surfaces devices already present in the bluetoothd
// object cache as discovery events.
func (s *BluezStack) replayKnownPeers() {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := s.conn.Object(bluezBus, "/")
	if err := obj.Call(dbusObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return
	}

	for path, interfaces := range objects {
		props, ok := interfaces[bluezDeviceIface]
		if !ok {
			continue
		}
		if !strings.HasPrefix(string(path), string(s.adapterPath)+"/") {
			continue
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
}

// emit delivers an event without blocking; events beyond the buffer are
// dropped rather than stalling the signal loop.
func (s *BluezStack) emit(ev adapter.StackEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
		log.Printf("bluez: event buffer full, dropping %T", ev)
	}
}

// normalize maps a bluetoothd error onto the stable stack error codes.
func normalize(err error) error {
	return adapter.NormalizeDriverErrorWithDriver(err, nil, "bluez")
}
