package protocol

import (
	"fmt"
	"slices"
	"sort"
)

// AddressForm selects which address notation a validation boundary expects.
type AddressForm int

const (
	// AddressRaw is the 10 hex digit form used in configuration files.
	AddressRaw AddressForm = iota
	// AddressCommand is the expanded 0xNN,... form used on the wire.
	AddressCommand
)

// Result collects violations keyed by field name.
type Result struct {
	Violations map[string][]string

	kinds []error // ErrRange and/or ErrFormat, once each
}

// add records a violation of kind ErrRange or ErrFormat.
func (r *Result) add(kind error, field, format string, args ...any) {
	if r.Violations == nil {
		r.Violations = make(map[string][]string)
	}
	r.Violations[field] = append(r.Violations[field], fmt.Sprintf(format, args...))
	if !slices.Contains(r.kinds, kind) {
		r.kinds = append(r.kinds, kind)
	}
}

// Valid reports whether no violations were found.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Fields returns the violating field names in sorted order.
func (r Result) Fields() []string {
	fields := make([]string, 0, len(r.Violations))
	for f := range r.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Err returns nil for a valid result, otherwise a *ValidationError.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Violations: r.Violations, kinds: r.kinds}
}

// ValidateRadioConfig checks every field of cfg. Addresses are checked in the
// notation selected by form.
func ValidateRadioConfig(cfg RadioConfig, form AddressForm) Result {
	var r Result

	if cfg.Channel < ChannelFirst || cfg.Channel > ChannelLast {
		r.add(ErrRange, "channel", "channel must be in range %d to %d, got %d", ChannelFirst, ChannelLast, cfg.Channel)
	}
	if cfg.CRC != 8 && cfg.CRC != 16 {
		r.add(ErrRange, "CRC", "CRC length must be 8 or 16, got %d", cfg.CRC)
	}
	if _, ok := RateIndex(cfg.Rate); !ok {
		r.add(ErrRange, "rate", "rate must be 1, 2 or 250, got %d", cfg.Rate)
	}
	if _, ok := BaudIndex(cfg.BaudRate); !ok {
		r.add(ErrRange, "baud", "baud rate must be one of %v, got %d", BaudRates, cfg.BaudRate)
	}

	check := IsRawAddress
	want := "10 hex digits"
	if form == AddressCommand {
		check = IsCommandAddress
		want = "5 groups of 0xNN separated by commas"
	}
	if !check(cfg.RXAddress) {
		r.add(ErrFormat, "RXAddress", "RX address must be %s, got %q", want, cfg.RXAddress)
	}
	if !check(cfg.TXAddress) {
		r.add(ErrFormat, "TXAddress", "TX address must be %s, got %q", want, cfg.TXAddress)
	}

	return r
}

// ValidateChannelFrame checks an 8 value frame.
func ValidateChannelFrame(values []int) Result {
	var r Result
	if len(values) != ChannelCount {
		r.add(ErrRange, "values", "frame requires %d values, got %d", ChannelCount, len(values))
	}
	for i, v := range values {
		if v < ChannelMin || v > ChannelMax {
			r.add(ErrRange, "values", "channel %d must be at least %d and at most %d, got %d", i+1, ChannelMin, ChannelMax, v)
		}
	}
	return r
}

// ValidateHexFrame checks an encoded frame for shape and decodability.
func ValidateHexFrame(hex string) Result {
	var r Result
	if len(hex) != HexFrameLength {
		r.add(ErrFormat, "hex", "frame must have %d hex digits, got %d characters", HexFrameLength, len(hex))
		return r
	}
	f, err := DecodeFrame(hex)
	if err != nil {
		r.add(ErrFormat, "hex", "frame must contain only hex digits")
		return r
	}
	for i, v := range f {
		if v < ChannelMin || v > ChannelMax {
			r.add(ErrRange, "values", "channel %d decodes to %d, outside %d to %d", i+1, v, ChannelMin, ChannelMax)
		}
	}
	return r
}
