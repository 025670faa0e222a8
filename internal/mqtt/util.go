package mqtt

import (
	"fmt"
	"strings"
)

// ParseURL splits "mqtt://host:port" into host and port, defaulting to 1883.
func ParseURL(urlStr string) (string, int) {
	urlStr = strings.TrimPrefix(urlStr, "mqtt://")
	urlStr = strings.TrimPrefix(urlStr, "tcp://")
	parts := strings.Split(urlStr, ":")
	if len(parts) == 1 {
		return parts[0], 1883
	}
	port := 1883
	fmt.Sscanf(parts[1], "%d", &port)
	return parts[0], port
}
