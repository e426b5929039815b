// Package device resolves the identity stamped on every record.
package device

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// DefaultInterface is the wired interface of the reference board.
const DefaultInterface = "enP2p33s0"

// lookup is replaced in tests.
var lookup = func(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.HardwareAddr, nil
}

// MACAddress returns the hardware address of iface as uppercase colon-separated hex.
func MACAddress(iface string) (string, error) {
	if iface == "" {
		iface = DefaultInterface
	}
	hw, err := lookup(iface)
	if err != nil {
		return "", fmt.Errorf("device: interface %s: %w", iface, err)
	}
	if len(hw) == 0 {
		return "", fmt.Errorf("device: interface %s has no hardware address", iface)
	}
	return strings.ToUpper(hw.String()), nil
}

// Resolve returns the MAC address of iface, then fallback, then the hostname.
func Resolve(iface, fallback string) (string, error) {
	mac, err := MACAddress(iface)
	if err == nil {
		return mac, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	host, herr := os.Hostname()
	if herr != nil || host == "" {
		return "", fmt.Errorf("device: no identity available: %w", err)
	}
	return host, nil
}
