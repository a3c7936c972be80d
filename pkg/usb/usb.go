// Package usb locates USB buses that host devices from a given vendor
// and resolves each bus to the sysfs attribute that gates its
// authorization state.
package usb

import (
	"fmt"
	"sort"
	"strconv"
)

// USB vendor identifiers
const (
	// EloVendorID is the USB vendor ID for Elo TouchSystems, the
	// default search target.
	EloVendorID = 0x04E7
)

// DefaultSysfsPath is the root of the kernel's USB device hierarchy.
// Each bus N exposes its authorization toggle at usb<N>/authorized
// under this directory.
const DefaultSysfsPath = "/sys/bus/usb/devices"

// Bus describes one USB bus (root hub) hosting at least one matching
// device. A Bus is only constructed once its control path has been
// verified to exist, and is never modified after Locate returns.
type Bus struct {
	// Number is the bus number assigned by the USB subsystem. Not
	// guaranteed contiguous or stable across reboots.
	Number int

	// DeviceCount is the number of matching devices observed on this
	// bus. Diagnostic only; it never affects reset behavior.
	DeviceCount int

	// ControlPath is the sysfs authorized attribute for this bus.
	ControlPath string
}

// SortBuses orders buses by bus number in place. Locate returns buses
// in no particular order; callers that display them should sort first.
func SortBuses(buses []Bus) {
	sort.Slice(buses, func(i, j int) bool {
		return buses[i].Number < buses[j].Number
	})
}

// BusNumbers returns the sorted bus numbers of the given buses,
// suitable for log output.
func BusNumbers(buses []Bus) []int {
	numbers := make([]int, 0, len(buses))
	for _, b := range buses {
		numbers = append(numbers, b.Number)
	}
	sort.Ints(numbers)
	return numbers
}

// ParseVendorID parses a vendor ID given in decimal ("1255") or hex
// with a 0x prefix ("0x04E7"). The zero value is rejected since it
// matches no real vendor.
func ParseVendorID(s string) (uint16, error) {
	value, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVendorID, s)
	}
	if value == 0 {
		return 0, fmt.Errorf("%w: vendor ID must be non-zero", ErrInvalidVendorID)
	}
	return uint16(value), nil
}
