// Package protocol implements the wire formats spoken with an NRF24 serial
// radio module: the 24 hex digit control-channel frame, the AT command set
// used to read and write the module configuration, and the parsing and
// validation rules around them.
package protocol

// Version represents the rasprc link protocol version
const Version = "0.1.0"
