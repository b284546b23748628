package backlight

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Device is the hardware surface the fade controller drives. The sysfs
// implementation is the only one outside tests.
type Device interface {
	Brightness() (int, error)
	SetBrightness(v int) error
	Color() (string, error)
	SetColor(s string) error
}

// SysfsDevice drives an LED backlight through its sysfs control files.
type SysfsDevice struct {
	brightnessPath string
	colorPath      string
}

func NewSysfsDevice(brightnessPath, colorPath string) *SysfsDevice {
	return &SysfsDevice{
		brightnessPath: brightnessPath,
		colorPath:      colorPath,
	}
}

// Relax makes the control files world-writable so user tools can adjust
// brightness and color while the daemon runs. Called once at startup.
func (d *SysfsDevice) Relax() error {
	for _, path := range []string{d.brightnessPath, d.colorPath} {
		if err := os.Chmod(path, 0666); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

func (d *SysfsDevice) Brightness() (int, error) {
	data, err := os.ReadFile(d.brightnessPath)
	if err != nil {
		return 0, fmt.Errorf("read brightness: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse brightness %q: %w", strings.TrimSpace(string(data)), err)
	}
	return v, nil
}

func (d *SysfsDevice) SetBrightness(v int) error {
	if err := os.WriteFile(d.brightnessPath, []byte(strconv.Itoa(v)), 0666); err != nil {
		return fmt.Errorf("write brightness: %w", err)
	}
	return nil
}

func (d *SysfsDevice) Color() (string, error) {
	data, err := os.ReadFile(d.colorPath)
	if err != nil {
		return "", fmt.Errorf("read color: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (d *SysfsDevice) SetColor(s string) error {
	if err := os.WriteFile(d.colorPath, []byte(s), 0666); err != nil {
		return fmt.Errorf("write color: %w", err)
	}
	return nil
}
