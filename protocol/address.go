package protocol

import (
	"regexp"
	"strings"
)

// Address constants
const (
	AddressBytes         = 5
	AddressHexLength     = AddressBytes * 2 // 10 hex digits
	CommandAddressLength = 24               // "0xNN,0xNN,0xNN,0xNN,0xNN"
)

var (
	rawAddressPattern     = regexp.MustCompile(`^[0-9A-Fa-f]{10}$`)
	commandAddressPattern = regexp.MustCompile(`^0x[0-9A-Fa-f]{2}(,0x[0-9A-Fa-f]{2}){4}$`)
	addressGroupPattern   = regexp.MustCompile(`^(?:0[xX])?([0-9A-Fa-f]{1,2})$`)
)

// ToCommandAddress converts a 10 hex digit address into the comma separated
// notation AT commands expect: "0xAA,0xBB,0xCC,0xDD,0xEE", MSB first.
func ToCommandAddress(hex10 string) (string, error) {
	if !rawAddressPattern.MatchString(hex10) {
		return "", &FormatError{Field: "address", Value: hex10, Want: "10 hex digits"}
	}

	hex10 = strings.ToUpper(hex10)
	groups := make([]string, AddressBytes)
	for i := range groups {
		groups[i] = "0x" + hex10[i*2:i*2+2]
	}
	return strings.Join(groups, ","), nil
}

// FromCommandAddress is the inverse of ToCommandAddress. Some firmware
// compacts a leading zero byte to a single digit ("0x0"), so each group is
// re-padded to two digits before reconstruction.
func FromCommandAddress(s string) (string, error) {
	groups := strings.Split(strings.TrimSpace(s), ",")
	if len(groups) != AddressBytes {
		return "", &FormatError{Field: "address", Value: s, Want: "5 comma separated 0xNN groups"}
	}

	var sb strings.Builder
	sb.Grow(AddressHexLength)
	for _, g := range groups {
		m := addressGroupPattern.FindStringSubmatch(strings.TrimSpace(g))
		if m == nil {
			return "", &FormatError{Field: "address", Value: s, Want: "5 comma separated 0xNN groups"}
		}
		if len(m[1]) == 1 {
			sb.WriteByte('0')
		}
		sb.WriteString(strings.ToUpper(m[1]))
	}
	return sb.String(), nil
}

// IsRawAddress reports whether s is a 10 hex digit address.
func IsRawAddress(s string) bool {
	return rawAddressPattern.MatchString(s)
}

// IsCommandAddress reports whether s is a fully expanded 0xNN address.
func IsCommandAddress(s string) bool {
	return len(s) == CommandAddressLength && commandAddressPattern.MatchString(s)
}
