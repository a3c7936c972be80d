package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/cmyster/work-tools/pkg/busreset"
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

// setupFakes points the command at a fake enumerator and a synthetic
// sysfs tree, pretending to be root.
func setupFakes(t *testing.T, enum usb.Enumerator, sysfs string) {
	t.Helper()
	prevEnumerator, prevSysfs, prevEuid := newEnumerator, sysfsPath, geteuid
	newEnumerator = func() usb.Enumerator { return enum }
	sysfsPath = sysfs
	geteuid = func() int { return 0 }
	t.Cleanup(func() {
		newEnumerator, sysfsPath, geteuid = prevEnumerator, prevSysfs, prevEuid
	})
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

func readAuthorized(t *testing.T, sysfs string, bus int) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(sysfs, fmt.Sprintf("usb%d", bus), "authorized"))
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func eloDevices(buses ...int) []usb.DeviceInfo {
	var devices []usb.DeviceInfo
	for i, bus := range buses {
		devices = append(devices, usb.DeviceInfo{
			BusNumber: bus,
			Address:   i + 2,
			VendorID:  usb.EloVendorID,
			ProductID: 0x0020,
		})
	}
	return devices
}

func TestRunFullReset(t *testing.T) {
	// Two devices on bus 1, one on bus 3, both control paths present.
	sysfs := makeSysfs(t, 1, 3)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1, 1, 3)}, sysfs)

	code := run([]string{"--delay", "0.01"})
	test.That(t, code, test.ShouldEqual, exitSuccess)
	test.That(t, readAuthorized(t, sysfs, 1), test.ShouldEqual, "1\n")
	test.That(t, readAuthorized(t, sysfs, 3), test.ShouldEqual, "1\n")
}

func TestRunSkipsBusWithoutControlPath(t *testing.T) {
	// Bus 3's control path is missing; the reduced target set still
	// counts as full success.
	sysfs := makeSysfs(t, 1)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1, 1, 3)}, sysfs)

	code := run([]string{"--delay", "0.01"})
	test.That(t, code, test.ShouldEqual, exitSuccess)
	test.That(t, readAuthorized(t, sysfs, 1), test.ShouldEqual, "1\n")
}

func TestRunPartialFailure(t *testing.T) {
	// Bus 1's authorized attribute exists but cannot be written (it is
	// a directory); bus 3 resets fine, so the run is a partial success.
	sysfs := makeSysfs(t, 3)
	busDir := filepath.Join(sysfs, "usb1")
	test.That(t, os.MkdirAll(filepath.Join(busDir, "authorized"), 0755), test.ShouldBeNil)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1, 3)}, sysfs)

	code := run([]string{"--delay", "0.01"})
	test.That(t, code, test.ShouldEqual, exitPartial)
	test.That(t, readAuthorized(t, sysfs, 3), test.ShouldEqual, "1\n")
}

func TestRunNoMatchingDevices(t *testing.T) {
	setupFakes(t, &fakeEnumerator{}, makeSysfs(t))

	code := run(nil)
	test.That(t, code, test.ShouldEqual, exitSuccess)
}

func TestRunDiscoveryError(t *testing.T) {
	setupFakes(t, &fakeEnumerator{err: errors.New("no backend")}, makeSysfs(t))

	code := run(nil)
	test.That(t, code, test.ShouldEqual, exitFailure)
}

func TestRunRequiresRoot(t *testing.T) {
	sysfs := makeSysfs(t, 1)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1)}, sysfs)
	geteuid = func() int { return 1000 }

	code := run([]string{"--delay", "0.01"})
	test.That(t, code, test.ShouldEqual, exitFailure)
	// Nothing was written.
	test.That(t, readAuthorized(t, sysfs, 1), test.ShouldEqual, "1\n")
}

func TestRunBadInput(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"bad vendor", []string{"--vendor", "banana"}},
		{"zero vendor", []string{"--vendor", "0"}},
		{"negative delay", []string{"--delay=-1"}},
		{"zero write timeout", []string{"--write-timeout", "0"}},
		{"unknown flag", []string{"--frobnicate"}},
		{"positional argument", []string{"bus1"}},
		{"missing config file", []string{"-c", "/nonexistent/elo-reset.yaml"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, run(tc.args), test.ShouldEqual, exitFailure)
		})
	}
}

func TestRunHelp(t *testing.T) {
	test.That(t, run([]string{"--help"}), test.ShouldEqual, exitSuccess)
}

func TestRunConfigFile(t *testing.T) {
	sysfs := makeSysfs(t, 1)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1)}, sysfs)

	path := filepath.Join(t.TempDir(), "elo-reset.yaml")
	test.That(t, os.WriteFile(path, []byte("delay_seconds: 0.01\n"), 0644), test.ShouldBeNil)

	code := run([]string{"-c", path})
	test.That(t, code, test.ShouldEqual, exitSuccess)
	test.That(t, readAuthorized(t, sysfs, 1), test.ShouldEqual, "1\n")
}

func TestRunFlagsOverrideConfigFile(t *testing.T) {
	// The file points at a vendor with no devices attached; the
	// explicit flag targets the real one. Bus 1 cannot be written, bus
	// 3 can, so a partial-success exit proves the flag won: with the
	// file's vendor the run would have found nothing and exited 0.
	sysfs := makeSysfs(t, 3)
	test.That(t, os.MkdirAll(filepath.Join(sysfs, "usb1", "authorized"), 0755), test.ShouldBeNil)
	setupFakes(t, &fakeEnumerator{devices: eloDevices(1, 3)}, sysfs)

	path := filepath.Join(t.TempDir(), "elo-reset.yaml")
	test.That(t, os.WriteFile(path,
		[]byte("vendor_id: \"0x9999\"\ndelay_seconds: 0.01\n"), 0644), test.ShouldBeNil)

	code := run([]string{"-c", path, "--vendor", "0x04E7"})
	test.That(t, code, test.ShouldEqual, exitPartial)
}

func TestReport(t *testing.T) {
	logger := golog.NewTestLogger(t)
	fullyReset := busreset.Outcome{Disabled: true, Enabled: true}
	failed := busreset.Outcome{DisableErr: errors.New("write error")}

	t.Run("all succeeded", func(t *testing.T) {
		summary := busreset.Summary{Outcomes: []busreset.Outcome{fullyReset, fullyReset}, Succeeded: 2}
		test.That(t, report(logger, summary, nil), test.ShouldEqual, exitSuccess)
	})

	t.Run("partial", func(t *testing.T) {
		summary := busreset.Summary{Outcomes: []busreset.Outcome{fullyReset, failed}, Succeeded: 1}
		test.That(t, report(logger, summary, nil), test.ShouldEqual, exitPartial)
	})

	t.Run("none", func(t *testing.T) {
		summary := busreset.Summary{Outcomes: []busreset.Outcome{failed}, Succeeded: 0}
		test.That(t, report(logger, summary, nil), test.ShouldEqual, exitFailure)
	})

	t.Run("cancelled", func(t *testing.T) {
		test.That(t, report(logger, busreset.Summary{}, context.Canceled),
			test.ShouldEqual, exitCancelled)
	})

	t.Run("wrapped cancellation", func(t *testing.T) {
		err := errors.Wrap(context.Canceled, "collecting outcomes")
		test.That(t, report(logger, busreset.Summary{}, err), test.ShouldEqual, exitCancelled)
	})

	t.Run("other error", func(t *testing.T) {
		test.That(t, report(logger, busreset.Summary{}, errors.New("boom")),
			test.ShouldEqual, exitFailure)
	})
}
