package serialmux

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// OpenPort opens the serial device at path with the given options.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial devices present on this machine, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// RealSerialPortFactory opens hardware ports via go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open implements SerialPortFactory.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return port, nil
}
