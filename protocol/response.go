package protocol

import (
	"iter"
	"math"
	"strconv"
	"strings"
)

// Positions of the fields in an AT? status dump. The layout is fixed by the
// module firmware.
const (
	StatusLineBaud      = 1
	StatusLineTXAddress = 2
	StatusLineRXAddress = 3
	StatusLineFrequency = 4
	StatusLineCRC       = 5
	StatusLineRate      = 7

	// StatusLines is the minimum number of lines in a status dump.
	StatusLines = 8
)

// Unit markers stripped from status fields.
const (
	UnitGHz  = "GHz"
	UnitKbps = "Kbps"
	UnitMbps = "Mbps"
	UnitCRC  = "CRC"
)

// DefaultUnits is the suffix set StripUnits uses when none is given.
var DefaultUnits = []string{UnitGHz, UnitKbps, UnitMbps, UnitCRC}

// SplitResponse yields the non-empty lines of a raw serial read. Bytes that
// are not valid UTF-8 are dropped. The sequence can be ranged over more than
// once.
func SplitResponse(raw []byte) iter.Seq[string] {
	return func(yield func(string) bool) {
		text := strings.ToValidUTF8(string(raw), "")
		for _, line := range strings.FieldsFunc(text, isLineBreak) {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

func isLineBreak(r rune) bool { return r == '\r' || r == '\n' }

// ResponseLines collects SplitResponse into a slice.
func ResponseLines(raw []byte) []string {
	var lines []string
	for line := range SplitResponse(raw) {
		lines = append(lines, line)
	}
	return lines
}

// StripUnits removes unit markers from a status field, leaving its numeric
// payload.
func StripUnits(line string, suffixes ...string) string {
	if len(suffixes) == 0 {
		suffixes = DefaultUnits
	}
	for _, s := range suffixes {
		line = strings.ReplaceAll(line, s, "")
	}
	return strings.TrimSpace(line)
}

// statusField names one positional field of the status dump and how to
// apply it to a RadioConfig.
type statusField struct {
	name  string
	index int
	parse func(line string, cfg *RadioConfig) error
}

var statusFields = []statusField{
	{"baud", StatusLineBaud, parseBaudField},
	{"TXAddress", StatusLineTXAddress, parseTXField},
	{"RXAddress", StatusLineRXAddress, parseRXField},
	{"frequency", StatusLineFrequency, parseFrequencyField},
	{"CRC", StatusLineCRC, parseCRCField},
	{"rate", StatusLineRate, parseRateField},
}

// ParseStatus reconstructs a RadioConfig from the lines of an AT? response.
// The port name is left empty; the caller owns that.
func ParseStatus(lines []string) (RadioConfig, error) {
	var cfg RadioConfig
	if len(lines) < StatusLines {
		return cfg, &ProtocolError{Detail: "status response has " + strconv.Itoa(len(lines)) +
			" lines, need at least " + strconv.Itoa(StatusLines)}
	}

	for _, f := range statusFields {
		line := lines[f.index]
		if err := f.parse(line, &cfg); err != nil {
			return RadioConfig{}, &ProtocolError{Field: f.name, Line: line, Detail: err.Error()}
		}
	}
	return cfg, nil
}

func parseBaudField(line string, cfg *RadioConfig) error {
	baud, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	if _, ok := BaudIndex(baud); !ok {
		return &RangeError{Field: "baud", Value: baud, Min: BaudRates[0], Max: BaudRates[len(BaudRates)-1]}
	}
	cfg.BaudRate = baud
	return nil
}

func parseTXField(line string, cfg *RadioConfig) error {
	addr, err := FromCommandAddress(line)
	if err != nil {
		return err
	}
	cfg.TXAddress = addr
	return nil
}

func parseRXField(line string, cfg *RadioConfig) error {
	addr, err := FromCommandAddress(line)
	if err != nil {
		return err
	}
	cfg.RXAddress = addr
	return nil
}

func parseFrequencyField(line string, cfg *RadioConfig) error {
	ghz, err := strconv.ParseFloat(StripUnits(line, UnitGHz), 64)
	if err != nil {
		return err
	}
	channel := int(math.Round(ghz*1000)) - BaseFrequency
	if channel < ChannelFirst || channel > ChannelLast {
		return &RangeError{Field: "channel", Value: channel, Min: ChannelFirst, Max: ChannelLast}
	}
	cfg.Channel = channel
	return nil
}

func parseCRCField(line string, cfg *RadioConfig) error {
	crc, err := strconv.Atoi(StripUnits(line, UnitCRC))
	if err != nil {
		return err
	}
	if crc != 8 && crc != 16 {
		return &RangeError{Field: "CRC", Value: crc, Min: 8, Max: 16}
	}
	cfg.CRC = crc
	return nil
}

func parseRateField(line string, cfg *RadioConfig) error {
	rate, err := strconv.Atoi(StripUnits(line, UnitKbps, UnitMbps))
	if err != nil {
		return err
	}
	if _, ok := RateIndex(rate); !ok {
		return &RangeError{Field: "rate", Value: rate, Min: 1, Max: 250}
	}
	cfg.Rate = rate
	return nil
}
