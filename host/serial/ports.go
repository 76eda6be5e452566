package serial

import (
	"fmt"
	"slices"

	bugst "go.bug.st/serial"
)

// ListPorts returns the serial ports present on the system, in the order the
// OS enumerates them.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// ResolvePort picks the device to open. The configured name wins when it is
// present; otherwise the last enumerated port is used. The second result
// reports whether a fallback happened. With nothing enumerated the
// configured name is returned unchanged and the open will report the error.
func ResolvePort(configured string, available []string) (string, bool) {
	if configured != "" && slices.Contains(available, configured) {
		return configured, false
	}
	if len(available) == 0 {
		return configured, false
	}
	return available[len(available)-1], true
}
