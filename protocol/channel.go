package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// Channel frame constants
const (
	ChannelCount   = 8    // Control channels per frame
	ChannelMin     = 1000 // Minimum pulse width (us)
	ChannelMax     = 2000 // Maximum pulse width (us)
	ChannelMid     = 1500
	HexDigitsPerCh = 3
	HexFrameLength = ChannelCount * HexDigitsPerCh // 24
)

var hexFramePattern = regexp.MustCompile(`^[0-9A-Fa-f]{24}$`)

// ChannelFrame is one transmission unit of 8 control-channel values.
// Frames are values: each tick builds a new one.
type ChannelFrame [ChannelCount]int

// NewChannelFrame builds a frame from exactly 8 values in [1000, 2000].
func NewChannelFrame(values ...int) (ChannelFrame, error) {
	var f ChannelFrame
	if len(values) != ChannelCount {
		return f, &RangeError{Field: "channel count", Value: len(values), Min: ChannelCount, Max: ChannelCount}
	}
	for i, v := range values {
		if v < ChannelMin || v > ChannelMax {
			return f, &RangeError{Field: "channel " + strconv.Itoa(i+1), Value: v, Min: ChannelMin, Max: ChannelMax}
		}
		f[i] = v
	}
	return f, nil
}

// NeutralFrame returns a frame with every channel at its minimum, the
// failsafe output used when no input is available.
func NeutralFrame() ChannelFrame {
	var f ChannelFrame
	for i := range f {
		f[i] = ChannelMin
	}
	return f
}

// Values returns the frame as a slice.
func (f ChannelFrame) Values() []int {
	return append([]int(nil), f[:]...)
}

// Encode renders the frame as its 24-character hex form.
func (f ChannelFrame) Encode() (string, error) {
	return EncodeFrame(f[:])
}

// EncodeFrame renders 8 channel values as 3 uppercase hex digits each,
// concatenated in channel order. The digits encode the numeric value itself:
// 1000 becomes "3E8".
func EncodeFrame(values []int) (string, error) {
	if _, err := NewChannelFrame(values...); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(HexFrameLength)
	for _, v := range values {
		s := strings.ToUpper(strconv.FormatInt(int64(v), 16))
		for pad := HexDigitsPerCh - len(s); pad > 0; pad-- {
			sb.WriteByte('0')
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// DecodeFrame parses a 24-character hex frame. Each 3-digit group is parsed
// as hexadecimal.
func DecodeFrame(hex string) (ChannelFrame, error) {
	var f ChannelFrame
	if !hexFramePattern.MatchString(hex) {
		return f, &FormatError{Field: "hex frame", Value: hex, Want: "24 hex digits"}
	}

	for i := 0; i < ChannelCount; i++ {
		group := hex[i*HexDigitsPerCh : (i+1)*HexDigitsPerCh]
		v, err := strconv.ParseUint(group, 16, 16)
		if err != nil {
			return f, &FormatError{Field: "hex frame", Value: hex, Want: "24 hex digits"}
		}
		f[i] = int(v)
	}
	return f, nil
}

// IsHexFrame reports whether s has the shape of an encoded frame.
func IsHexFrame(s string) bool {
	return hexFramePattern.MatchString(s)
}

// FormatFrameGroups renders a hex frame as comma separated 3-digit groups
// ("3E8,3E8,..."), for diagnostics.
func FormatFrameGroups(hex string) (string, error) {
	if !hexFramePattern.MatchString(hex) {
		return "", &FormatError{Field: "hex frame", Value: hex, Want: "24 hex digits"}
	}

	groups := make([]string, ChannelCount)
	for i := range groups {
		groups[i] = hex[i*HexDigitsPerCh : (i+1)*HexDigitsPerCh]
	}
	return strings.Join(groups, ","), nil
}

// MapRange maps value from [fromMin, fromMax] onto [toMin, toMax] using
// integer arithmetic.
func MapRange(value, fromMin, fromMax, toMin, toMax int) int {
	if fromMax == fromMin {
		return toMin
	}
	return toMin + (value-fromMin)*(toMax-toMin)/(fromMax-fromMin)
}
