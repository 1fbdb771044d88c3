//go:build darwin

package gpu

import (
	"os/exec"
	"strings"
)

// detectDevices distinguishes Apple silicon from Intel Macs via a CPU-brand
// sysctl; both report a single integrated GPU, since macOS does not expose
// discrete-GPU enumeration the way lspci or WMIC do.
func detectDevices() ([]Device, error) {
	brand, err := sysctlString("machdep.cpu.brand_string")
	if err != nil {
		return nil, err
	}
	if strings.Contains(brand, "Apple") {
		return []Device{{
			Vendor:        VendorApple,
			Model:         brand + " integrated GPU",
			DriverVersion: macOSVersion(),
		}}, nil
	}
	return []Device{{Vendor: VendorIntel, Model: brand + " integrated graphics"}}, nil
}

func sysctlString(name string) (string, error) {
	out, err := exec.Command("sysctl", "-n", name).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func macOSVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
