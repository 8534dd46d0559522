package serial

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", cfg.BaudRate)
	}
	if cfg.ReadTimeout.Seconds() != 1 {
		t.Errorf("ReadTimeout = %v, want 1s", cfg.ReadTimeout)
	}
	if cfg.ConnectTimeout.Seconds() != 10 {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
}

func TestOpenRequiresDevice(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open with empty device succeeded")
	}
}

func TestOpenSocketRequiresPath(t *testing.T) {
	if _, err := OpenSocket("", 0); err == nil {
		t.Error("OpenSocket with empty path succeeded")
	}
}

func TestOpenTCPRequiresAddress(t *testing.T) {
	if _, err := OpenTCP("", 0); err == nil {
		t.Error("OpenTCP with empty address succeeded")
	}
}

func TestResolveDeviceLeavesPlainPathsAlone(t *testing.T) {
	for _, device := range []string{"/dev/ttyUSB0", "/dev/ttyACM3", "/tmp/rig.sock"} {
		resolved, err := ResolveDevice(device)
		if err != nil {
			t.Fatalf("ResolveDevice(%q): %v", device, err)
		}
		if resolved != device {
			t.Errorf("ResolveDevice(%q) = %q", device, resolved)
		}
	}
}

func TestResolveDeviceFailsOnDanglingByIDPath(t *testing.T) {
	if _, err := ResolveDevice("/dev/serial/by-id/no-such-controller"); err == nil {
		t.Error("dangling by-id path resolved without error")
	}
}

func TestIsDeviceAvailable(t *testing.T) {
	// A regular file is not a character device.
	path := filepath.Join(t.TempDir(), "not-a-tty")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if IsDeviceAvailable(path) {
		t.Errorf("regular file %s reported available", path)
	}
	if IsDeviceAvailable(filepath.Join(t.TempDir(), "missing")) {
		t.Error("missing path reported available")
	}
}

func TestBaudRateToSpeedKnownRates(t *testing.T) {
	for _, baud := range []int{9600, 57600, 115200, 230400} {
		speed, custom, err := baudRateToSpeed(baud)
		if err != nil {
			t.Fatalf("baudRateToSpeed(%d): %v", baud, err)
		}
		if speed == 0 {
			t.Errorf("baudRateToSpeed(%d) = 0", baud)
		}
		if custom != 0 {
			t.Errorf("baudRateToSpeed(%d) wants custom rate %d", baud, custom)
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("127.0.0.1:9902")
	if err != nil {
		t.Fatal(err)
	}
	if host != "127.0.0.1" || port != "9902" {
		t.Errorf("got %q %q", host, port)
	}
	if _, _, err := splitHostPort("no-port"); err == nil {
		t.Error("address without port accepted")
	}
}

func TestParsePort(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"9902", 9902, false},
		{"1", 1, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"90x2", 0, true},
	}
	for _, tc := range cases {
		got, err := parsePort(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parsePort(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePort(%q): %v", tc.in, err)
		} else if got != tc.want {
			t.Errorf("parsePort(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestResolveHost(t *testing.T) {
	ip, err := resolveHost("localhost")
	if err != nil {
		t.Fatal(err)
	}
	if ip[0] != 127 || ip[3] != 1 {
		t.Errorf("localhost = %v", ip)
	}

	ip, err = resolveHost("192.168.7.2")
	if err != nil {
		t.Fatal(err)
	}
	if ip[0] != 192 || ip[1] != 168 || ip[2] != 7 || ip[3] != 2 {
		t.Errorf("got %v", ip)
	}

	if _, err := resolveHost("controller.local"); err == nil {
		t.Error("hostname accepted, want IP-only resolution")
	}
	if _, err := resolveHost("10.0.0.999"); err == nil {
		t.Error("out-of-range octet accepted")
	}
}
