package bluez

const (
	bluezBus           = "org.bluez"
	bluezRootPath      = "/org/bluez"
	bluezAdapterIface  = "org.bluez.Adapter1"
	bluezDeviceIface   = "org.bluez.Device1"
	bluezAgentIface    = "org.bluez.Agent1"
	bluezAgentManager  = "org.bluez.AgentManager1"
	bluezLEAdvIface    = "org.bluez.LEAdvertisement1"
	bluezLEAdvManager  = "org.bluez.LEAdvertisingManager1"
	dbusObjectManager  = "org.freedesktop.DBus.ObjectManager"
	dbusPropertiesFace = "org.freedesktop.DBus.Properties"

	agentPath = "/com/securacv/btctl/agent"
	advPath   = "/com/securacv/btctl/advertisement0"

	// bluezErrRejected is returned from agent methods to refuse a pairing.
	bluezErrRejected = "org.bluez.Error.Rejected"
)
