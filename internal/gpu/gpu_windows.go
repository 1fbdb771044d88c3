//go:build windows

package gpu

import (
	"os/exec"
	"strings"
)

// detectDevices queries the PCI vendor id and driver version for every
// video controller via WMIC, falling back to nvidia-smi if WMIC is
// unavailable or returns nothing (e.g. WMIC removed in newer Windows 11
// builds).
func detectDevices() ([]Device, error) {
	devices := detectViaWMIC()
	if len(devices) == 0 {
		devices = detectViaNvidiaSMI()
	}
	return devices, nil
}

func detectViaWMIC() []Device {
	out, err := exec.Command("wmic", "path", "win32_VideoController", "get", "Name,DriverVersion,PNPDeviceID", "/format:csv").Output()
	if err != nil {
		return nil
	}
	var devices []Device
	for _, line := range strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Node") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			continue
		}
		driverVersion := strings.TrimSpace(fields[1])
		name := strings.TrimSpace(fields[2])
		pnpID := strings.TrimSpace(fields[3])
		v := classifyPNPVendor(pnpID)
		if v == VendorUnknown {
			continue
		}
		devices = append(devices, Device{Vendor: v, Model: name, DriverVersion: driverVersion})
	}
	return devices
}

func classifyPNPVendor(pnpID string) Vendor {
	upper := strings.ToUpper(pnpID)
	switch {
	case strings.Contains(upper, "VEN_10DE"):
		return VendorNVIDIA
	case strings.Contains(upper, "VEN_1002"), strings.Contains(upper, "VEN_1022"):
		return VendorAMD
	case strings.Contains(upper, "VEN_8086"):
		return VendorIntel
	}
	return VendorUnknown
}

func detectViaNvidiaSMI() []Device {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}
	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		devices = append(devices, Device{
			Vendor:        VendorNVIDIA,
			Model:         strings.TrimSpace(parts[0]),
			DriverVersion: strings.TrimSpace(parts[1]),
		})
	}
	return devices
}
