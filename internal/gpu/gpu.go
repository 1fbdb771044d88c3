// Package gpu implements the GPU / Hardware Probe (spec.md C14): OS-specific
// discrete-GPU vendor detection, NVIDIA > AMD > Intel priority selection, and
// a driver minimum-version check.
package gpu

import (
	"runtime"
	"strconv"
	"strings"
)

// Vendor identifies a GPU's manufacturer.
type Vendor string

const (
	VendorNVIDIA  Vendor = "nvidia"
	VendorAMD     Vendor = "amd"
	VendorIntel   Vendor = "intel"
	VendorApple   Vendor = "apple"
	VendorUnknown Vendor = "unknown"
)

// vendorPriority ranks vendors for primary-GPU selection on multi-GPU
// systems: lower value wins.
var vendorPriority = map[Vendor]int{
	VendorNVIDIA:  0,
	VendorAMD:     1,
	VendorIntel:   2,
	VendorApple:   3,
	VendorUnknown: 4,
}

// Device describes one detected GPU.
type Device struct {
	Vendor        Vendor
	Model         string
	DriverVersion string
}

// Result is the outcome of a Detect call.
type Result struct {
	Devices           []Device
	Primary           *Device
	Supported         bool
	UnsupportedReason string
}

// Detect probes the host for GPUs, selects the primary one by vendor
// priority, and reports whether this hardware configuration is supported.
// detectDevices is implemented per-OS in gpu_linux.go, gpu_darwin.go,
// gpu_windows.go, and gpu_other.go.
func Detect() (Result, error) {
	devices, err := detectDevices()
	if err != nil {
		return Result{}, err
	}
	res := Result{Devices: devices}
	res.Primary = choosePrimary(devices)
	res.Supported, res.UnsupportedReason = supportStatus(res.Primary)
	return res, nil
}

func choosePrimary(devices []Device) *Device {
	if len(devices) == 0 {
		return nil
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if vendorPriority[d.Vendor] < vendorPriority[best.Vendor] {
			best = d
		}
	}
	return &best
}

// supportStatus reports whether the primary device is a supported
// configuration. Intel GPUs on macOS are the one hardware-unsupported case
// named by the probe; everything else, including "no GPU found" (CPU-only
// run), is reported supported with a nil primary.
func supportStatus(primary *Device) (bool, string) {
	if primary == nil {
		return true, ""
	}
	if runtime.GOOS == "darwin" && primary.Vendor == VendorIntel {
		return false, "Intel GPUs are not supported on macOS"
	}
	return true, ""
}

// MeetsMinimum reports whether version is >= minimum under dotted numeric
// comparison.
func MeetsMinimum(version, minimum string) bool {
	return CompareDottedVersions(version, minimum) >= 0
}

// CompareDottedVersions compares two dot-separated numeric version strings
// component by component, returning -1, 0, or 1. Missing trailing
// components compare as 0. Driver version strings vary in arity across
// vendors and platforms (e.g. "535.104.05" vs "31.0.15.1694"), which rules
// out a strict three-component semver parse; this is a plain numeric
// comparison instead.
func CompareDottedVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(strings.TrimSpace(pa[i]))
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(strings.TrimSpace(pb[i]))
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}
