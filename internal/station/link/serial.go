package link

import (
	"errors"
	"io"

	"go.bug.st/serial"
)

// SerialOpener opens path as an 8N1 serial port.
func SerialOpener(path string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func portErrorCode(err error) string {
	var pe *serial.PortError
	if !errors.As(err, &pe) {
		return ""
	}
	switch pe.Code() {
	case serial.PortNotFound:
		return "port_not_found"
	case serial.PortBusy:
		return "port_busy"
	case serial.PermissionDenied:
		return "permission_denied"
	case serial.PortClosed:
		return "port_closed"
	case serial.InvalidSpeed:
		return "invalid_speed"
	}
	return "port_error"
}
