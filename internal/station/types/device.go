package types

import (
	"fmt"
	"strings"
	"time"
)

// Role is a logical device slot, independent of the physical path.
type Role string

const (
	RoleRFIDReader        Role = "reader_rfid"
	RoleFingerprintReader Role = "reader_fp"
	RoleRelay             Role = "relay"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleRFIDReader, RoleFingerprintReader, RoleRelay}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleRFIDReader, RoleFingerprintReader, RoleRelay:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// DeviceBinding is the persisted vendor/product pair used to find a role's
// port again after USB re-enumeration.
type DeviceBinding struct {
	Role          Role      `json:"role"`
	VendorID      string    `json:"vendor_id"`
	ProductID     string    `json:"product_id"`
	LastKnownPath string    `json:"last_known_path,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Bound reports whether both identifiers are present. An unbound binding
// never resolves to a path.
func (b DeviceBinding) Bound() bool {
	return strings.TrimSpace(b.VendorID) != "" && strings.TrimSpace(b.ProductID) != ""
}

// PortInfo describes one attached serial device.
type PortInfo struct {
	Path         string `json:"path"`
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkResolving
	LinkConnecting
	LinkConnected
	LinkClosing
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkResolving:
		return "resolving"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkClosing:
		return "closing"
	}
	return "unknown"
}

func (s LinkState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LinkStatus is a snapshot of one role's link.
type LinkStatus struct {
	Role  Role      `json:"role"`
	State LinkState `json:"state"`
	Path  string    `json:"path,omitempty"`
}
