package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// PlaceholderFirmware is recorded for sensors whose initial probe failed.
const PlaceholderFirmware = "0.0.0"

// MinSupportedFirmware is the oldest firmware the daemon reads reliably.
const MinSupportedFirmware = "3.1.9"

// Firmware is a dotted major.minor.patch firmware version
type Firmware struct {
	Major int
	Minor int
	Patch int
}

// ParseFirmware parses strings like "3.2.1" or "v2.7.0".
func ParseFirmware(s string) (Firmware, error) {
	f := Firmware{}

	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(s, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return f, fmt.Errorf("invalid firmware version: %s", s)
	}

	fields := []*int{&f.Major, &f.Minor, &f.Patch}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return f, fmt.Errorf("invalid firmware version component %q in %s", part, s)
		}
		*fields[i] = n
	}

	return f, nil
}

// Compare returns -1 if f < other, 0 if equal, 1 if f > other
func (f Firmware) Compare(other Firmware) int {
	switch {
	case f.Major != other.Major:
		return sign(f.Major - other.Major)
	case f.Minor != other.Minor:
		return sign(f.Minor - other.Minor)
	default:
		return sign(f.Patch - other.Patch)
	}
}

func (f Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", f.Major, f.Minor, f.Patch)
}

// FirmwareAtLeast reports whether version is parseable and not older than min.
func FirmwareAtLeast(version, min string) bool {
	v, err := ParseFirmware(version)
	if err != nil {
		return false
	}
	m, err := ParseFirmware(min)
	if err != nil {
		return false
	}
	return v.Compare(m) >= 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
