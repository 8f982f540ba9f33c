package request

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Bluetooth SIG base UUID suffix/prefix, normalized form.
const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a characteristic UUID to the internal form: lowercase,
// no dashes, no 0x prefix. UUIDs in the Bluetooth SIG base range
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to their 16-bit form.
// Returns "" if uuid is not a valid 16-, 32- or 128-bit UUID.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(strings.ReplaceAll(s, "-", "")) {
	case 4, 8:
		s = strings.ReplaceAll(s, "-", "")
		if _, err := hex.DecodeString(s); err != nil {
			return ""
		}
		if len(s) == 8 && strings.HasPrefix(s, sigBasePrefix) {
			return s[4:]
		}
		return s
	case 32:
		u, err := uuid.Parse(s)
		if err != nil {
			return ""
		}
		n := strings.ReplaceAll(u.String(), "-", "")
		if strings.HasPrefix(n, sigBasePrefix) && strings.HasSuffix(n, sigBaseSuffix) {
			return n[4:8]
		}
		return n
	default:
		return ""
	}
}

// ParseUUID normalizes s or returns an error when it is not a valid UUID.
func ParseUUID(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("UUID cannot be empty")
	}
	n := NormalizeUUID(s)
	if n == "" {
		return "", fmt.Errorf("invalid UUID format: %s", s)
	}
	return n, nil
}

// MustParse is like ParseUUID but panics on error.
func MustParse(s string) string {
	n, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// SameUUID reports whether a and b name the same characteristic.
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ShortenUUID returns the first eight characters of long UUIDs for display.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
