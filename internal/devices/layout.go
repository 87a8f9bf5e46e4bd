package devices

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/PortExtender/internal/types"
)

// Valid 7-bit address range for a configured device.
const (
	minDeviceAddress = 0x08
	maxDeviceAddress = 0x77
)

// LayoutDevices assigns contiguous station slices to devs in order, starting
// at station 0. The last device that receives stations absorbs the remainder
// as trailing unused bits; devices beyond the station count get none.
func LayoutDevices(devs []types.DeviceConfig, stations int) []types.DeviceConfig {
	out := make([]types.DeviceConfig, len(devs))
	cursor := 0
	for i, d := range devs {
		width := d.ICType.PortWidth()
		n := min(width, max(stations-cursor, 0))

		d.PortWidth = width
		d.First = cursor
		d.Last = cursor + n
		d.Unused = width - n
		out[i] = d

		cursor = d.Last
	}
	return out
}

// Capacity is the number of stations the devices can drive.
func Capacity(devs []types.DeviceConfig) int {
	total := 0
	for _, d := range devs {
		total += d.Stations()
	}
	return total
}

// CheckLayout verifies the per-device and cross-device invariants: known
// family, width matching the family, slices contiguous from station 0 and
// last-first == width-unused.
func CheckLayout(devs []types.DeviceConfig) error {
	var errs []error
	cursor := 0
	for i, d := range devs {
		if !d.ICType.Valid() {
			errs = append(errs, fmt.Errorf("device %d: unsupported ic_type %q", i, d.ICType))
			continue
		}
		if d.PortWidth != d.ICType.PortWidth() {
			errs = append(errs, fmt.Errorf("device %d: size %d does not match %s (%d)",
				i, d.PortWidth, d.ICType, d.ICType.PortWidth()))
		}
		if d.Address < minDeviceAddress || d.Address > maxDeviceAddress {
			errs = append(errs, fmt.Errorf("device %d: address 0x%02X outside 0x%02X-0x%02X",
				i, d.Address, minDeviceAddress, maxDeviceAddress))
		}
		if d.First != cursor {
			errs = append(errs, fmt.Errorf("device %d: slice starts at %d, expected %d", i, d.First, cursor))
		}
		if d.Unused < 0 || d.Unused > d.PortWidth || d.Last-d.First != d.PortWidth-d.Unused {
			errs = append(errs, fmt.Errorf("device %d: slice [%d:%d] with %d unused does not fill %d bits",
				i, d.First, d.Last, d.Unused, d.PortWidth))
		}
		cursor = d.Last
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// AutoConfig builds the device list for stations from the discovered
// addresses, in discovery order. Anything short of a complete list is an
// error and yields no devices.
func AutoConfig(busID int, ic types.ICType, discovered []uint8, stations int) ([]types.DeviceConfig, error) {
	span := ic.PortWidth()
	if span == 0 {
		return []types.DeviceConfig{}, fmt.Errorf("%w: unsupported default ic_type %q", ErrConfiguration, ic)
	}
	if stations <= 0 {
		return []types.DeviceConfig{}, fmt.Errorf("%w: host reports no stations", ErrCapacityMismatch)
	}

	needed := (stations + span - 1) / span
	if len(discovered) < needed {
		return []types.DeviceConfig{}, fmt.Errorf(
			"%w: %d %s device(s) needed for %d stations but %d found on bus %d",
			ErrDiscoveryShortfall, needed, ic, stations, len(discovered), busID)
	}

	devs := make([]types.DeviceConfig, needed)
	for i := range devs {
		devs[i] = types.DeviceConfig{
			BusID:   busID,
			Address: discovered[i],
			ICType:  ic,
		}
	}
	return LayoutDevices(devs, stations), nil
}

// Fold packs a station slice into port bits, bit i set iff slice[i].
func Fold(slice []bool) uint16 {
	var v uint16
	for i, on := range slice {
		if on && i < 16 {
			v |= 1 << i
		}
	}
	return v
}
