package sensor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned for link-layer addresses that are not six colon separated hex octets.
var ErrInvalidAddress = errors.New("invalid sensor address")

var addressPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

// NormalizeAddress validates a MAC address in any letter case and returns
// its lowercase colon form.
func NormalizeAddress(addr string) (string, error) {
	mac := strings.ToLower(strings.TrimSpace(addr))
	if !addressPattern.MatchString(mac) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return mac, nil
}

// ValidAddress reports whether addr is an acceptable sensor address.
func ValidAddress(addr string) bool {
	_, err := NormalizeAddress(addr)
	return err == nil
}
