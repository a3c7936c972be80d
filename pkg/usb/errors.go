package usb

import "errors"

// Locator errors
var (
	// ErrEnumeration indicates the USB enumeration facility itself
	// could not be queried. This is the only fatal discovery failure;
	// zero matching devices is a valid empty result, not an error.
	ErrEnumeration = errors.New("failed to enumerate USB devices")

	// ErrInvalidVendorID indicates a vendor ID string that is not a
	// decimal or 0x-prefixed hex value in the 16-bit range.
	ErrInvalidVendorID = errors.New("invalid vendor ID")
)
