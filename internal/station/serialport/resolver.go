// Package serialport maps device roles to physical serial paths using the
// vendor/product identifiers persisted by an operator bind.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

var ErrPortNotFound = errors.New("port not found among attached devices")

type Resolver struct {
	bindings store.BindingStore
	enum     Enumerator
	logger   zerolog.Logger
	now      func() time.Time
}

func NewResolver(bindings store.BindingStore, enum Enumerator, logger zerolog.Logger) *Resolver {
	return &Resolver{
		bindings: bindings,
		enum:     enum,
		logger:   logger.With().Str("component", "port_resolver").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListPorts returns attached devices that carry vendor and product ids.
func (r *Resolver) ListPorts(ctx context.Context) ([]types.PortInfo, error) {
	ports, err := r.enum.ListPorts(ctx)
	if err != nil {
		return nil, err
	}
	return usable(ports), nil
}

// Resolve returns the path of the attached device matching role's binding.
// ok is false when the role is unbound or no attached device matches; that
// is the normal state while hardware is unplugged and is not an error.
func (r *Resolver) Resolve(ctx context.Context, role types.Role) (path string, ok bool, err error) {
	b, err := r.bindings.ReadBinding(ctx, role)
	if err != nil {
		// A corrupt or unreadable binding degrades to "not found".
		r.logger.Warn().Err(err).Str("role", string(role)).Msg("read binding failed")
		return "", false, nil
	}
	if b == nil || !b.Bound() {
		return "", false, nil
	}

	ports, err := r.ListPorts(ctx)
	if err != nil {
		return "", false, err
	}

	vid, pid := NormalizeID(b.VendorID), NormalizeID(b.ProductID)
	for _, p := range ports {
		if p.VendorID != vid || p.ProductID != pid {
			continue
		}
		if p.Path != b.LastKnownPath {
			r.refreshPath(ctx, *b, p.Path)
		}
		return p.Path, true, nil
	}
	return "", false, nil
}

// Bind persists the identifiers of the device currently at chosenPath as
// role's binding. The path is re-checked against the live list first.
func (r *Resolver) Bind(ctx context.Context, role types.Role, chosenPath string) (types.DeviceBinding, error) {
	ports, err := r.ListPorts(ctx)
	if err != nil {
		return types.DeviceBinding{}, err
	}

	for _, p := range ports {
		if p.Path != chosenPath {
			continue
		}
		b := types.DeviceBinding{
			Role:          role,
			VendorID:      p.VendorID,
			ProductID:     p.ProductID,
			LastKnownPath: p.Path,
			UpdatedAt:     r.now(),
		}
		if err := r.bindings.WriteBinding(ctx, b); err != nil {
			return types.DeviceBinding{}, fmt.Errorf("persist binding: %w", err)
		}
		r.logger.Info().
			Str("role", string(role)).
			Str("vid", b.VendorID).
			Str("pid", b.ProductID).
			Str("path", b.LastKnownPath).
			Msg("device bound")
		return b, nil
	}
	return types.DeviceBinding{}, fmt.Errorf("%w: %s", ErrPortNotFound, chosenPath)
}

func (r *Resolver) refreshPath(ctx context.Context, b types.DeviceBinding, path string) {
	prev := b.LastKnownPath
	b.LastKnownPath = path
	b.UpdatedAt = r.now()
	if err := r.bindings.WriteBinding(ctx, b); err != nil {
		r.logger.Warn().Err(err).Str("role", string(b.Role)).Msg("update last known path failed")
		return
	}
	r.logger.Info().
		Str("role", string(b.Role)).
		Str("from", prev).
		Str("to", path).
		Msg("device re-enumerated")
}
