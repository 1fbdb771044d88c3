//go:build linux

package gpu

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// detectDevices finds GPUs via lspci, falling back to sysfs if lspci is
// unavailable, then enriches any NVIDIA device's driver version via
// nvidia-smi when present.
func detectDevices() ([]Device, error) {
	devices := detectViaLspci()
	if len(devices) == 0 {
		devices = detectViaSysfs()
	}
	if ver, err := nvidiaDriverVersion(); err == nil && ver != "" {
		for i := range devices {
			if devices[i].Vendor == VendorNVIDIA && devices[i].DriverVersion == "" {
				devices[i].DriverVersion = ver
			}
		}
	}
	return devices, nil
}

func detectViaLspci() []Device {
	out, err := exec.Command("lspci", "-mm").Output()
	if err != nil {
		return nil
	}
	var devices []Device
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "VGA compatible controller") && !strings.Contains(line, "3D controller") && !strings.Contains(line, "Display controller") {
			continue
		}
		v := classifyLspciVendor(line)
		if v == VendorUnknown {
			continue
		}
		devices = append(devices, Device{Vendor: v, Model: extractLspciModel(line)})
	}
	return devices
}

func classifyLspciVendor(line string) Vendor {
	switch {
	case strings.Contains(line, "NVIDIA"):
		return VendorNVIDIA
	case strings.Contains(line, "Advanced Micro Devices") || strings.Contains(line, "AMD") || strings.Contains(line, "ATI"):
		return VendorAMD
	case strings.Contains(line, "Intel"):
		return VendorIntel
	}
	return VendorUnknown
}

// extractLspciModel pulls the quoted device-name field out of a `lspci -mm`
// line, whose fields are space-separated quoted strings:
// `slot "class" "vendor" "device" -r rev "subvendor" "subdevice"`.
func extractLspciModel(line string) string {
	fields := splitQuoted(line)
	if len(fields) >= 3 {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

func splitQuoted(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			if !inQuote {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		case inQuote:
			cur.WriteRune(r)
		}
	}
	return fields
}

// detectViaSysfs walks the DRM class directory when lspci is absent
// (minimal containers, some distros).
func detectViaSysfs() []Device {
	entries, err := os.ReadDir("/sys/class/drm")
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var devices []Device
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "card") || strings.Contains(e.Name(), "-") {
			continue
		}
		vendorPath := filepath.Join("/sys/class/drm", e.Name(), "device", "vendor")
		raw, err := os.ReadFile(vendorPath)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(raw))
		if seen[id] {
			continue
		}
		seen[id] = true
		v := classifyPCIVendorID(id)
		if v == VendorUnknown {
			continue
		}
		devices = append(devices, Device{Vendor: v, Model: id})
	}
	return devices
}

func classifyPCIVendorID(id string) Vendor {
	switch strings.ToLower(id) {
	case "0x10de":
		return VendorNVIDIA
	case "0x1002", "0x1022":
		return VendorAMD
	case "0x8086":
		return VendorIntel
	}
	return VendorUnknown
}

func nvidiaDriverVersion() (string, error) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return "", nil
	}
	return strings.TrimSpace(lines[0]), nil
}
