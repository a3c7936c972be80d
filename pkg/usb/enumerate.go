package usb

import (
	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// DeviceInfo identifies one attached USB device and the bus it lives on.
type DeviceInfo struct {
	BusNumber int
	Address   int
	VendorID  uint16
	ProductID uint16
}

// Enumerator lists attached USB devices. The libusb-backed
// implementation returned by NewEnumerator is the production backend;
// tests substitute their own.
type Enumerator interface {
	// VendorDevices returns every attached device whose vendor ID
	// matches. A result with no devices is not an error.
	VendorDevices(vendorID uint16) ([]DeviceInfo, error)

	// Close releases the underlying enumeration backend.
	Close() error
}

// libusbEnumerator enumerates devices through a gousb context. Only
// device descriptors are inspected; no device is ever opened or
// claimed.
type libusbEnumerator struct {
	usb *gousb.Context
}

// NewEnumerator returns an Enumerator backed by libusb.
func NewEnumerator() Enumerator {
	return &libusbEnumerator{usb: gousb.NewContext()}
}

// VendorDevices walks the device list and collects descriptors whose
// vendor ID matches. The opener callback always returns false so gousb
// never opens a device on our behalf.
func (e *libusbEnumerator) VendorDevices(vendorID uint16) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	_, err := e.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(vendorID) {
			devices = append(devices, DeviceInfo{
				BusNumber: desc.Bus,
				Address:   desc.Address,
				VendorID:  uint16(desc.Vendor),
				ProductID: uint16(desc.Product),
			})
		}
		return false
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing USB devices")
	}
	return devices, nil
}

// Close releases the libusb context.
func (e *libusbEnumerator) Close() error {
	return e.usb.Close()
}
