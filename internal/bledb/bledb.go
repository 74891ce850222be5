// Package bledb resolves Bluetooth UUIDs to human readable names for the
// services and characteristics this peripheral exposes.
//
// UUIDs are accepted in any common notation and normalized to the internal
// form: lowercase hex without dashes, and 16-bit short form for UUIDs built
// on the Bluetooth SIG base UUID.
package bledb

import "strings"

// sigBaseSuffix is the Bluetooth SIG base UUID without its 16-bit slot.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"1815": "Automation IO",
	"a000": "Button Service",
	"01000000000069692004daba55a5ad1b": "GPIO Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a56": "Digital",
	"2a58": "Analog",
	"2a59": "Analog Output",
	"a001": "Button State",
	"a002": "LED State",
}

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// It strips braces and a 0x prefix, and reduces full 128-bit UUIDs in Bluetooth
// SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb) to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "{")
	u = strings.TrimSuffix(u, "}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// LookupService returns the known name of a service UUID, or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic UUID, or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
