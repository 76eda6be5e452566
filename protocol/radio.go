package protocol

import (
	"fmt"
	"slices"
)

// Radio parameter tables. AT+BAUD and AT+RATE take the 1-based position of a
// value in these tables, not the value itself.
var (
	BaudRates = []int{4800, 9600, 14400, 19200, 38400, 57600, 115200}
	AirRates  = []int{250, 1, 2} // 250 Kbps, 1 Mbps, 2 Mbps
	CRCWidths = []int{8, 16}
)

// Channel plan: channel n sits at 2400+n MHz.
const (
	ChannelFirst  = 0
	ChannelLast   = 125
	BaseFrequency = 2400 // MHz
)

// RadioConfig is the module configuration exchanged with AT? and the AT+
// setters. Addresses are held in raw 10 hex digit form.
type RadioConfig struct {
	PortName  string `json:"port_name"`
	BaudRate  int    `json:"baud_rate"` // bits per second, one of BaudRates
	Rate      int    `json:"rate"`      // one of AirRates
	Channel   int    `json:"channel"`   // 0..125
	CRC       int    `json:"crc"`       // 8 or 16
	RXAddress string `json:"rx_address"`
	TXAddress string `json:"tx_address"`
}

// DefaultRadioConfig mirrors the factory defaults of the module.
func DefaultRadioConfig() RadioConfig {
	return RadioConfig{
		PortName:  "/dev/ttyUSB0",
		BaudRate:  9600,
		Rate:      1,
		Channel:   76,
		CRC:       16,
		RXAddress: "FFFFFFFFFF",
		TXAddress: "FFFFFFFFFF",
	}
}

// BaudIndex returns the 1-based selector for a baud rate.
func BaudIndex(baud int) (int, bool) {
	i := slices.Index(BaudRates, baud)
	return i + 1, i >= 0
}

// BaudForIndex returns the baud rate for a 1-based selector.
func BaudForIndex(index int) (int, bool) {
	if index < 1 || index > len(BaudRates) {
		return 0, false
	}
	return BaudRates[index-1], true
}

// RateIndex returns the 1-based selector for an air data rate.
func RateIndex(rate int) (int, bool) {
	i := slices.Index(AirRates, rate)
	return i + 1, i >= 0
}

// FrequencyMHz returns the carrier frequency for a channel number.
func FrequencyMHz(channel int) int {
	return BaseFrequency + channel
}

// String renders the config for logs.
func (c RadioConfig) String() string {
	return fmt.Sprintf("port=%s baud=%d rate=%d channel=%d (%d MHz) crc=%d rx=%s tx=%s",
		c.PortName, c.BaudRate, c.Rate, c.Channel, FrequencyMHz(c.Channel), c.CRC, c.RXAddress, c.TXAddress)
}
