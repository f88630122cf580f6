// Package mqtt bridges the control coordinator to an MQTT broker.
//
// Topics, under the configured base topic:
//
//	<base>/bridge/state                 online/offline, retained (last will)
//	<base>/cycle                        every cycle result as JSON
//	<base>/<device>/status              latest DeviceStatus, retained
//	<base>/<device>/result              latest cycle result for the device, retained
//	<base>/<device>/state               control state (input, preset, toggles), retained
//	<base>/<device>/<command>/set       profile, frequency, solar, preset, reboot,
//	                                    pause, resume, auto_power, temp_protection
//	<base>/<device>/board/<id>/set      on/off
//	<base>/emergency_stop/set           any payload
//
// The solar command takes "curve" or a wattage such as "1800".
package mqtt
