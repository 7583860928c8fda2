package radio

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService     = "org.bluez"
	bluezAdapterIF   = "org.bluez.Adapter1"
	dbusPropertiesIF = "org.freedesktop.DBus.Properties"
)

// WatchBlueZPower reports the Powered property of a BlueZ adapter: once with
// the current value, then on every PropertiesChanged signal. The returned
// stop function releases the bus connection.
func WatchBlueZPower(adapterID string, report func(AdapterState)) (func(), error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("radio: connect system bus: %w", err)
	}

	path := dbus.ObjectPath("/org/bluez/" + adapterID)
	v, err := conn.Object(bluezService, path).GetProperty(bluezAdapterIF + ".Powered")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("radio: read %s power state: %w", adapterID, err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(dbusPropertiesIF),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("radio: add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	powered, _ := v.Value().(bool)
	report(poweredState(powered))

	go func() {
		for sig := range signals {
			if state, ok := parsePowerSignal(sig, path); ok {
				slog.Info("[BLE] adapter power changed", "adapter", adapterID, "state", state)
				report(state)
			}
		}
	}()

	return func() {
		conn.RemoveSignal(signals)
		close(signals)
		conn.Close()
	}, nil
}

// parsePowerSignal extracts the Powered value from an Adapter1
// PropertiesChanged signal for path.
func parsePowerSignal(sig *dbus.Signal, path dbus.ObjectPath) (AdapterState, bool) {
	if sig == nil || sig.Path != path || sig.Name != dbusPropertiesIF+".PropertiesChanged" {
		return StateUnknown, false
	}
	if len(sig.Body) < 2 {
		return StateUnknown, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != bluezAdapterIF {
		return StateUnknown, false
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return StateUnknown, false
	}
	v, ok := changes["Powered"]
	if !ok {
		return StateUnknown, false
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return StateUnknown, false
	}
	return poweredState(powered), true
}

func poweredState(powered bool) AdapterState {
	if powered {
		return StatePoweredOn
	}
	return StatePoweredOff
}
