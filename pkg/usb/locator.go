package usb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
)

// Locator finds the buses that host devices from a given vendor.
type Locator struct {
	enum      Enumerator
	sysfsPath string
	logger    golog.Logger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithSysfsPath overrides the sysfs USB device root. Useful when sysfs
// is mounted somewhere other than /sys (containers, tests).
func WithSysfsPath(path string) LocatorOption {
	return func(l *Locator) {
		l.sysfsPath = path
	}
}

// NewLocator returns a Locator that queries the given enumerator and
// resolves control paths under the standard sysfs root.
func NewLocator(enum Enumerator, logger golog.Logger, opts ...LocatorOption) *Locator {
	l := &Locator{
		enum:      enum,
		sysfsPath: DefaultSysfsPath,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns one Bus per distinct bus number hosting at least one
// device from the vendor, each with its verified control path and the
// count of matching devices seen on it. Buses whose control path does
// not exist are skipped for the whole pass with a warning. The result
// is unordered; it is empty (with a nil error) when no device matches.
//
// Locate fails only when the enumeration facility itself cannot be
// queried; the returned error then matches ErrEnumeration.
func (l *Locator) Locate(vendorID uint16) ([]Bus, error) {
	devices, err := l.enum.VendorDevices(vendorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	found := make(map[int]*Bus)
	skipped := make(map[int]bool)
	for _, device := range devices {
		number := device.BusNumber
		if skipped[number] {
			continue
		}
		if bus, ok := found[number]; ok {
			bus.DeviceCount++
			continue
		}

		controlPath := l.controlPath(number)
		if _, err := os.Stat(controlPath); err != nil {
			l.logger.Warnw("control path not found for bus, skipping",
				"bus", number, "path", controlPath)
			skipped[number] = true
			continue
		}
		found[number] = &Bus{
			Number:      number,
			DeviceCount: 1,
			ControlPath: controlPath,
		}
	}

	buses := make([]Bus, 0, len(found))
	for _, bus := range found {
		buses = append(buses, *bus)
	}
	return buses, nil
}

// controlPath returns the sysfs authorized attribute for a bus number.
func (l *Locator) controlPath(busNumber int) string {
	return filepath.Join(l.sysfsPath, fmt.Sprintf("usb%d", busNumber), "authorized")
}
