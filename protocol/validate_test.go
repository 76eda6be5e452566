package protocol

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestValidateRadioConfigDefaults(t *testing.T) {
	r := ValidateRadioConfig(DefaultRadioConfig(), AddressRaw)
	if !r.Valid() {
		t.Errorf("Default config should be valid, got %v", r.Violations)
	}
	if r.Err() != nil {
		t.Errorf("Err() should be nil for a valid result")
	}
}

func TestValidateRadioConfigFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*RadioConfig)
		field  string
	}{
		{"channel 200", func(c *RadioConfig) { c.Channel = 200 }, "channel"},
		{"channel -1", func(c *RadioConfig) { c.Channel = -1 }, "channel"},
		{"CRC 12", func(c *RadioConfig) { c.CRC = 12 }, "CRC"},
		{"rate 3", func(c *RadioConfig) { c.Rate = 3 }, "rate"},
		{"baud 1234", func(c *RadioConfig) { c.BaudRate = 1234 }, "baud"},
		{"short RX", func(c *RadioConfig) { c.RXAddress = "12345" }, "RXAddress"},
		{"non-hex TX", func(c *RadioConfig) { c.TXAddress = "GGGGGGGGGG" }, "TXAddress"},
	}

	for _, tc := range testCases {
		cfg := DefaultRadioConfig()
		tc.mutate(&cfg)
		before := cfg

		r := ValidateRadioConfig(cfg, AddressRaw)
		if r.Valid() {
			t.Errorf("%s: expected validation failure", tc.name)
			continue
		}
		if !slices.Equal(r.Fields(), []string{tc.field}) {
			t.Errorf("%s: violating fields %v, expected [%s]", tc.name, r.Fields(), tc.field)
		}
		for _, msg := range r.Violations[tc.field] {
			if !strings.Contains(strings.ToLower(msg), strings.ToLower(tc.field[:2])) {
				t.Errorf("%s: message %q does not reference %s", tc.name, msg, tc.field)
			}
		}
		if cfg != before {
			t.Errorf("%s: validation mutated its input", tc.name)
		}
	}
}

func TestValidateRadioConfigChannelMessage(t *testing.T) {
	cfg := DefaultRadioConfig()
	cfg.Channel = 200
	cfg.CRC = 12

	r := ValidateRadioConfig(cfg, AddressRaw)
	if !strings.Contains(r.Violations["channel"][0], "channel") {
		t.Errorf("channel message %q should reference channel", r.Violations["channel"][0])
	}
	if !strings.Contains(r.Violations["CRC"][0], "CRC") {
		t.Errorf("CRC message %q should reference CRC", r.Violations["CRC"][0])
	}

	err := r.Err()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), "CRC") || !strings.Contains(err.Error(), "channel") {
		t.Errorf("Error text %q should list both fields", err.Error())
	}
}

func TestValidateRadioConfigCommandForm(t *testing.T) {
	cfg := DefaultRadioConfig()
	cfg.RXAddress = "0xAA,0xBB,0xCC,0xDD,0xEE"
	cfg.TXAddress = "0x11,0x22,0x33,0x44,0x55"

	if r := ValidateRadioConfig(cfg, AddressCommand); !r.Valid() {
		t.Errorf("Expanded addresses should pass command-form validation: %v", r.Violations)
	}
	if r := ValidateRadioConfig(cfg, AddressRaw); r.Valid() {
		t.Error("Expanded addresses should fail raw-form validation")
	}

	cfg = DefaultRadioConfig()
	if r := ValidateRadioConfig(cfg, AddressCommand); r.Valid() {
		t.Error("Raw addresses should fail command-form validation")
	}
}

func TestValidateChannelFrame(t *testing.T) {
	if r := ValidateChannelFrame(NeutralFrame().Values()); !r.Valid() {
		t.Errorf("Neutral frame should be valid: %v", r.Violations)
	}

	r := ValidateChannelFrame([]int{1000, 2001, 1000, 1000, 1000, 1000, 1000, 999})
	if len(r.Violations["values"]) != 2 {
		t.Errorf("Expected 2 value violations, got %v", r.Violations)
	}

	r = ValidateChannelFrame([]int{1000})
	if r.Valid() {
		t.Error("Single value frame should be invalid")
	}
}

func TestValidateHexFrame(t *testing.T) {
	if r := ValidateHexFrame("3E83E83E83E83E83E83E83E8"); !r.Valid() {
		t.Errorf("Expected valid frame, got %v", r.Violations)
	}

	testCases := []struct {
		hex   string
		field string
	}{
		{"3E8", "hex"},
		{"3E83E83E83E83E83E83E83EZ", "hex"},
		{"0003E83E83E83E83E83E83E8", "values"},
	}
	for _, tc := range testCases {
		r := ValidateHexFrame(tc.hex)
		if _, ok := r.Violations[tc.field]; !ok {
			t.Errorf("ValidateHexFrame(%q) violations %v, expected field %s", tc.hex, r.Violations, tc.field)
		}
	}
}

func TestValidationErrorKinds(t *testing.T) {
	rangeOnly := DefaultRadioConfig()
	rangeOnly.Channel = 200

	formatOnly := DefaultRadioConfig()
	formatOnly.TXAddress = "XYZ"

	both := DefaultRadioConfig()
	both.Channel = 200
	both.RXAddress = "12"

	tests := []struct {
		name     string
		result   Result
		isRange  bool
		isFormat bool
	}{
		{"channel only", ValidateRadioConfig(rangeOnly, AddressRaw), true, false},
		{"address only", ValidateRadioConfig(formatOnly, AddressRaw), false, true},
		{"channel and address", ValidateRadioConfig(both, AddressRaw), true, true},
		{"value out of range", ValidateChannelFrame([]int{1000, 1000, 1000, 1000, 1000, 1000, 1000, 999}), true, false},
		{"short hex", ValidateHexFrame("3E8"), false, true},
	}
	for _, tt := range tests {
		err := tt.result.Err()
		if err == nil {
			t.Errorf("%s: expected an error", tt.name)
			continue
		}
		if got := errors.Is(err, ErrRange); got != tt.isRange {
			t.Errorf("%s: errors.Is(ErrRange) = %v, expected %v", tt.name, got, tt.isRange)
		}
		if got := errors.Is(err, ErrFormat); got != tt.isFormat {
			t.Errorf("%s: errors.Is(ErrFormat) = %v, expected %v", tt.name, got, tt.isFormat)
		}
		if errors.Is(err, ErrProtocol) {
			t.Errorf("%s: validation error matched ErrProtocol", tt.name)
		}
	}
}
