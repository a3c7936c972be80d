// Package config loads the optional tool configuration file that lets
// deployments pin reset settings instead of passing flags.
package config

import (
	"fmt"
	"time"

	"github.com/cmyster/work-tools/pkg/busreset"
	"github.com/cmyster/work-tools/pkg/usb"
)

// File mirrors the command-line knobs.
type File struct {
	DelaySeconds        float64 `yaml:"delay_seconds"`
	WriteTimeoutSeconds float64 `yaml:"write_timeout_seconds"`
	VendorID            string  `yaml:"vendor_id"`
	Debug               bool    `yaml:"debug"`
}

// Default returns the built-in settings.
func Default() *File {
	return &File{
		DelaySeconds:        busreset.DefaultDelay.Seconds(),
		WriteTimeoutSeconds: busreset.DefaultWriteTimeout.Seconds(),
		VendorID:            fmt.Sprintf("0x%04X", usb.EloVendorID),
		Debug:               false,
	}
}

// Delay returns the configured inter-phase delay.
func (f *File) Delay() time.Duration {
	return time.Duration(f.DelaySeconds * float64(time.Second))
}

// WriteTimeout returns the configured per-write bound.
func (f *File) WriteTimeout() time.Duration {
	return time.Duration(f.WriteTimeoutSeconds * float64(time.Second))
}

// Vendor parses the configured vendor identifier.
func (f *File) Vendor() (uint16, error) {
	return usb.ParseVendorID(f.VendorID)
}

// ResetConfig converts the file's timing into coordinator settings.
func (f *File) ResetConfig() busreset.Config {
	return busreset.Config{
		Delay:        f.Delay(),
		WriteTimeout: f.WriteTimeout(),
	}
}

// Validate checks the file for usable values.
func (f *File) Validate() error {
	if _, err := f.Vendor(); err != nil {
		return err
	}
	return f.ResetConfig().Validate()
}
