package gpu

import "testing"

func TestCompareDottedVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"535.104.05", "535.104.05", 0},
		{"535.104.05", "535.86.10", 1},
		{"450.0.0", "535.104.05", -1},
		{"31.0.15.1694", "31.0.15.1000", 1},
		{"1.2", "1.2.0", 0},
		{"2", "1.9.9", 1},
	}
	for _, c := range cases {
		got := CompareDottedVersions(c.a, c.b)
		if got != c.want {
			t.Errorf("CompareDottedVersions(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestMeetsMinimum(t *testing.T) {
	if !MeetsMinimum("535.104.05", "525.0.0") {
		t.Fatal("expected newer driver to meet minimum")
	}
	if MeetsMinimum("470.0.0", "525.0.0") {
		t.Fatal("expected older driver to fail minimum")
	}
}

func TestChoosePrimaryPrefersNVIDIA(t *testing.T) {
	devices := []Device{
		{Vendor: VendorIntel, Model: "Intel UHD"},
		{Vendor: VendorAMD, Model: "Radeon RX 6800"},
		{Vendor: VendorNVIDIA, Model: "RTX 4090"},
	}
	primary := choosePrimary(devices)
	if primary == nil || primary.Vendor != VendorNVIDIA {
		t.Fatalf("expected NVIDIA to win priority, got %+v", primary)
	}
}

func TestChoosePrimaryAMDOverIntel(t *testing.T) {
	devices := []Device{
		{Vendor: VendorIntel, Model: "Intel UHD"},
		{Vendor: VendorAMD, Model: "Radeon RX 6800"},
	}
	primary := choosePrimary(devices)
	if primary == nil || primary.Vendor != VendorAMD {
		t.Fatalf("expected AMD to win over Intel, got %+v", primary)
	}
}

func TestChoosePrimaryEmpty(t *testing.T) {
	if choosePrimary(nil) != nil {
		t.Fatal("expected nil primary for no devices")
	}
}

func TestSupportStatusNoGPU(t *testing.T) {
	supported, reason := supportStatus(nil)
	if !supported || reason != "" {
		t.Fatalf("expected CPU-only run to be supported, got supported=%v reason=%q", supported, reason)
	}
}
