package bluez

import (
	"log"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/securacv/btctl/internal/adapter"
)

// advertisement is the exported org.bluez.LEAdvertisement1 object.
// bluetoothd reads its properties when the advertisement registers and
// calls Release when it forcibly unregisters us.
type advertisement struct {
	props *prop.Properties
}

// Release is called by bluetoothd when the advertisement is dropped on
// its side, typically on power-off.
func (ad *advertisement) Release() *dbus.Error {
	log.Println("bluez: advertisement released")
	return nil
}

// exportAdvertisement publishes the advertisement object with the given
// parameters on the bus.
func exportAdvertisement(conn *dbus.Conn, params adapter.AdvertisingParams, txPower int) (*advertisement, error) {
	ad := &advertisement{}
	path := dbus.ObjectPath(advPath)

	if err := conn.Export(ad, path, bluezLEAdvIface); err != nil {
		return nil, err
	}

	propSpec := prop.Map{
		bluezLEAdvIface: {
			"Type":         {Value: "peripheral", Writable: false, Emit: prop.EmitTrue},
			"ServiceUUIDs": {Value: []string{params.ServiceUUID}, Writable: false, Emit: prop.EmitTrue},
			"LocalName":    {Value: params.DeviceName, Writable: false, Emit: prop.EmitTrue},
			"Includes":     {Value: []string{"tx-power"}, Writable: false, Emit: prop.EmitTrue},
			"TxPower":      {Value: int16(txPower), Writable: false, Emit: prop.EmitTrue},
		},
	}
	properties, err := prop.Export(conn, path, propSpec)
	if err != nil {
		unexportAdvertisement(conn)
		return nil, err
	}
	ad.props = properties

	node := &introspect.Node{
		Name: advPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       bluezLEAdvIface,
				Methods:    introspect.Methods(ad),
				Properties: properties.Introspection(bluezLEAdvIface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		unexportAdvertisement(conn)
		return nil, err
	}

	return ad, nil
}

// unexportAdvertisement removes the advertisement object from the bus.
func unexportAdvertisement(conn *dbus.Conn) {
	path := dbus.ObjectPath(advPath)
	_ = conn.Export(nil, path, bluezLEAdvIface)
	_ = conn.Export(nil, path, "org.freedesktop.DBus.Properties")
	_ = conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")
}
