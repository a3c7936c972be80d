// lsbus: list the USB buses hosting devices from a given vendor.
//
// Shows exactly what elo-reset would target, including buses that
// would be skipped for a missing control path, without writing
// anything.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.viam.com/utils"

	"github.com/cmyster/work-tools/pkg/usb"
)

// Swapped by tests.
var (
	newEnumerator           = usb.NewEnumerator
	sysfsPath               = usb.DefaultSysfsPath
	stdout        io.Writer = os.Stdout
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("lsbus", pflag.ContinueOnError)
	vendor := flags.String("vendor", fmt.Sprintf("0x%04X", usb.EloVendorID),
		"vendor ID of the devices to look for (0xHEX or decimal)")
	verbose := flags.BoolP("verbose", "v", false, "show per-device detail")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if rest := flags.Args(); len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument: %s\n", rest[0])
		return 1
	}

	vendorID, err := usb.ParseVendorID(*vendor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger := golog.NewLogger("lsbus")
	if *debug {
		logger = golog.NewDebugLogger("lsbus")
	}

	enumerator := newEnumerator()
	defer utils.UncheckedErrorFunc(enumerator.Close)

	devices, err := enumerator.VendorDevices(vendorID)
	if err != nil {
		logger.Errorw("device enumeration failed", "error", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintf(stdout, "No devices found for vendor 0x%04X\n", vendorID)
		return 0
	}

	buses, err := usb.NewLocator(enumerator, logger, usb.WithSysfsPath(sysfsPath)).Locate(vendorID)
	if err != nil {
		logger.Errorw("bus discovery failed", "error", err)
		return 1
	}
	targeted := make(map[int]usb.Bus, len(buses))
	for _, bus := range buses {
		targeted[bus.Number] = bus
	}

	byBus := make(map[int][]usb.DeviceInfo)
	for _, device := range devices {
		byBus[device.BusNumber] = append(byBus[device.BusNumber], device)
	}
	busNumbers := make([]int, 0, len(byBus))
	for number := range byBus {
		busNumbers = append(busNumbers, number)
	}
	sort.Ints(busNumbers)

	fmt.Fprintf(stdout, "Found %d matching device(s) on %d bus(es):\n\n", len(devices), len(byBus))
	for _, number := range busNumbers {
		if bus, ok := targeted[number]; ok {
			fmt.Fprintf(stdout, "Bus %d: %d device(s), control path %s\n",
				number, len(byBus[number]), bus.ControlPath)
		} else {
			fmt.Fprintf(stdout, "Bus %d: %d device(s), control path missing (would be skipped)\n",
				number, len(byBus[number]))
		}
		if *verbose {
			for _, device := range byBus[number] {
				fmt.Fprintf(stdout, "  %d:%-3d %04X:%04X\n",
					device.BusNumber, device.Address, device.VendorID, device.ProductID)
			}
		}
	}
	return 0
}
