package homeassistant

import "strings"

// deviceClass picks the Home Assistant class from the entity key.
func deviceClass(e entity) string {
	if e.component != "binary_sensor" {
		return ""
	}
	key := strings.ToLower(e.key)
	if strings.HasSuffix(key, "_lock") {
		return "lock"
	}
	if strings.Contains(key, "door") {
		return "door"
	}
	if strings.Contains(key, "window") {
		return "window"
	}
	if strings.Contains(key, "occupancy") {
		return "occupancy"
	}
	return ""
}
