// Package ports lets several independent bridge instances share one
// machine: each claims a port from a small preferred range, advertises it
// in a well-known directory, and can discover its live siblings.
// Coordination is advertisement files plus liveness rechecks, not locks;
// a stale read costs the client one retry.
package ports

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// advertisementPrefix names advertisement files in the shared directory.
const advertisementPrefix = "deckbridge-port-"

// PortRangeSize is how many consecutive ports are tried from the
// preferred one.
const PortRangeSize = 10

// Advertisement records a live instance's listening endpoint. One file
// per port lives in the shared directory; the file is only meaningful
// while the recorded process is alive.
type Advertisement struct {
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"startedAt"`
}

// Validate checks the structural invariants of an advertisement.
func (a Advertisement) Validate() error {
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("invalid port %d", a.Port)
	}
	if a.PID <= 0 {
		return fmt.Errorf("invalid pid %d", a.PID)
	}
	if a.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// AdvertisementFilename returns the file name used for a port's
// advertisement.
func AdvertisementFilename(port int) string {
	return fmt.Sprintf("%s%d.json", advertisementPrefix, port)
}

// PortFromFilename extracts the port from an advertisement file name.
// The second return is false when the name is not an advertisement.
func PortFromFilename(name string) (int, bool) {
	if !strings.HasPrefix(name, advertisementPrefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, advertisementPrefix), ".json")
	port, err := strconv.Atoi(digits)
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// ParseAdvertisement decodes and validates advertisement file content.
func ParseAdvertisement(data []byte) (Advertisement, error) {
	var ad Advertisement
	if err := json.Unmarshal(data, &ad); err != nil {
		return Advertisement{}, fmt.Errorf("parsing advertisement: %w", err)
	}
	if err := ad.Validate(); err != nil {
		return Advertisement{}, fmt.Errorf("invalid advertisement: %w", err)
	}
	return ad, nil
}
