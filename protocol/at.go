package protocol

import (
	"strconv"
)

// AT command syntax understood by the module firmware.
const (
	CmdQuery     = "AT?"
	CmdBaud      = "AT+BAUD="
	CmdRate      = "AT+RATE="
	CmdCRC       = "AT+CRC="
	CmdFrequency = "AT+FREQ="
	CmdTXAddress = "AT+TXA="
	CmdRXAddress = "AT+RXA="

	// CRLF terminates every command line.
	CRLF = "\r\n"
)

// BaudCommand builds AT+BAUD=<1..7>.
func BaudCommand(baud int) (string, error) {
	idx, ok := BaudIndex(baud)
	if !ok {
		return "", &RangeError{Field: "baud", Value: baud, Min: BaudRates[0], Max: BaudRates[len(BaudRates)-1]}
	}
	return CmdBaud + strconv.Itoa(idx), nil
}

// RateCommand builds AT+RATE=<1|2|3> from an air rate of 250, 1 or 2.
func RateCommand(rate int) (string, error) {
	idx, ok := RateIndex(rate)
	if !ok {
		return "", &RangeError{Field: "rate", Value: rate, Min: 1, Max: 250}
	}
	return CmdRate + strconv.Itoa(idx), nil
}

// CRCCommand builds AT+CRC=<8|16>.
func CRCCommand(crc int) (string, error) {
	if crc != 8 && crc != 16 {
		return "", &RangeError{Field: "CRC", Value: crc, Min: 8, Max: 16}
	}
	return CmdCRC + strconv.Itoa(crc), nil
}

// FrequencyCommand builds AT+FREQ=2.<400+channel>G.
func FrequencyCommand(channel int) (string, error) {
	if channel < ChannelFirst || channel > ChannelLast {
		return "", &RangeError{Field: "channel", Value: channel, Min: ChannelFirst, Max: ChannelLast}
	}
	return CmdFrequency + "2." + strconv.Itoa(400+channel) + "G", nil
}

// TXAddressCommand builds AT+TXA=0xNN,... from a raw address.
func TXAddressCommand(addr string) (string, error) {
	a, err := ToCommandAddress(addr)
	if err != nil {
		return "", err
	}
	return CmdTXAddress + a, nil
}

// RXAddressCommand builds AT+RXA=0xNN,... from a raw address.
func RXAddressCommand(addr string) (string, error) {
	a, err := ToCommandAddress(addr)
	if err != nil {
		return "", err
	}
	return CmdRXAddress + a, nil
}

// ConfigurationCommands returns the setter sequence for cfg in the order the
// firmware applies them: baud, rate, CRC, frequency, TX address, RX address.
func ConfigurationCommands(cfg RadioConfig) ([]string, error) {
	builders := []func() (string, error){
		func() (string, error) { return BaudCommand(cfg.BaudRate) },
		func() (string, error) { return RateCommand(cfg.Rate) },
		func() (string, error) { return CRCCommand(cfg.CRC) },
		func() (string, error) { return FrequencyCommand(cfg.Channel) },
		func() (string, error) { return TXAddressCommand(cfg.TXAddress) },
		func() (string, error) { return RXAddressCommand(cfg.RXAddress) },
	}

	cmds := make([]string, 0, len(builders))
	for _, build := range builders {
		cmd, err := build()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
