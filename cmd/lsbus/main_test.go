package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/cmyster/work-tools/pkg/usb"
)

type fakeEnumerator struct {
	devices []usb.DeviceInfo
	err     error
}

func (f *fakeEnumerator) VendorDevices(vendorID uint16) ([]usb.DeviceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var matching []usb.DeviceInfo
	for _, d := range f.devices {
		if d.VendorID == vendorID {
			matching = append(matching, d)
		}
	}
	return matching, nil
}

func (f *fakeEnumerator) Close() error { return nil }

func setupFakes(t *testing.T, enum usb.Enumerator, sysfs string) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	prevEnumerator, prevSysfs, prevStdout := newEnumerator, sysfsPath, stdout
	newEnumerator = func() usb.Enumerator { return enum }
	sysfsPath = sysfs
	stdout = &out
	t.Cleanup(func() {
		newEnumerator, sysfsPath, stdout = prevEnumerator, prevSysfs, prevStdout
	})
	return &out
}

func makeSysfs(t *testing.T, busNumbers ...int) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range busNumbers {
		busDir := filepath.Join(root, fmt.Sprintf("usb%d", n))
		test.That(t, os.Mkdir(busDir, 0755), test.ShouldBeNil)
		authorized := filepath.Join(busDir, "authorized")
		test.That(t, os.WriteFile(authorized, []byte("1\n"), 0644), test.ShouldBeNil)
	}
	return root
}

func TestRunListsBuses(t *testing.T) {
	sysfs := makeSysfs(t, 1)
	out := setupFakes(t, &fakeEnumerator{devices: []usb.DeviceInfo{
		{BusNumber: 1, Address: 4, VendorID: usb.EloVendorID, ProductID: 0x0020},
		{BusNumber: 1, Address: 7, VendorID: usb.EloVendorID, ProductID: 0x0020},
		{BusNumber: 3, Address: 2, VendorID: usb.EloVendorID, ProductID: 0x0020},
	}}, sysfs)

	test.That(t, run([]string{"-v"}), test.ShouldEqual, 0)

	listing := out.String()
	test.That(t, listing, test.ShouldContainSubstring, "Found 3 matching device(s) on 2 bus(es)")
	test.That(t, listing, test.ShouldContainSubstring,
		fmt.Sprintf("Bus 1: 2 device(s), control path %s", filepath.Join(sysfs, "usb1", "authorized")))
	test.That(t, listing, test.ShouldContainSubstring,
		"Bus 3: 1 device(s), control path missing (would be skipped)")
	test.That(t, listing, test.ShouldContainSubstring, "04E7:0020")
}

func TestRunNoDevices(t *testing.T) {
	out := setupFakes(t, &fakeEnumerator{}, makeSysfs(t))

	test.That(t, run(nil), test.ShouldEqual, 0)
	test.That(t, out.String(), test.ShouldContainSubstring, "No devices found for vendor 0x04E7")
}

func TestRunDiscoveryError(t *testing.T) {
	setupFakes(t, &fakeEnumerator{err: errors.New("no backend")}, makeSysfs(t))

	test.That(t, run(nil), test.ShouldEqual, 1)
}

func TestRunBadVendor(t *testing.T) {
	test.That(t, run([]string{"--vendor", "banana"}), test.ShouldEqual, 1)
	test.That(t, run([]string{"extra"}), test.ShouldEqual, 1)
}
