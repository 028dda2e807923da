package serialport

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// Enumerator lists the serial devices currently attached.
type Enumerator interface {
	ListPorts(ctx context.Context) ([]types.PortInfo, error)
}

// USBEnumerator asks the OS for serial ports and their USB identifiers.
type USBEnumerator struct{}

func (USBEnumerator) ListPorts(_ context.Context) ([]types.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]types.PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		out = append(out, types.PortInfo{
			Path:         d.Name,
			VendorID:     d.VID,
			ProductID:    d.PID,
			Manufacturer: d.Product,
		})
	}
	return out, nil
}

// NormalizeID lowercases a USB identifier and strips a 0x prefix, so
// "0x1A2B" and "1a2b" compare equal.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

// usable normalises identifiers and drops ports without both of them;
// those are built-in or virtual ports that can never match a binding.
func usable(ports []types.PortInfo) []types.PortInfo {
	out := make([]types.PortInfo, 0, len(ports))
	for _, p := range ports {
		p.VendorID = NormalizeID(p.VendorID)
		p.ProductID = NormalizeID(p.ProductID)
		p.Path = strings.TrimSpace(p.Path)
		if p.VendorID == "" || p.ProductID == "" || p.Path == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
