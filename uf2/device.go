package uf2

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB vendor IDs of boards whose firmware reboots into the UF2 bootloader
// when the CDC port is opened at 1200 baud (the classic Arduino-style touch).
var UF2VendorTable = map[string]string{
	"2E8A": "Raspberry Pi",
	"239A": "Adafruit",
	"2341": "Arduino",
	"1B4F": "SparkFun",
	"2886": "Seeed Studio",
	"03EB": "Microchip (Atmel)",
	"1209": "Generic (pid.codes)",
}

const (
	resetBaudRate  = 1200
	resetHoldDelay = 100 * time.Millisecond
)

// Pick the first USB serial port whose vendor is in the known table.
// Split out from the enumeration so it's testable without hardware.
func selectResetPort(ports []*enumerator.PortDetails) (string, error) {
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		if _, ok := UF2VendorTable[strings.ToUpper(port.VID)]; ok {
			return port.Name, nil
		}
	}
	return "", fmt.Errorf("no serial port with a known UF2-capable vendor id found")
}

// Scan system serial ports for the first UF2-capable board.
func FindResetPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	return selectResetPort(ports)
}

// Touch a serial port at 1200 baud to reboot the board into its mass
// storage bootloader. Pass "auto" (or nothing) to scan for a known board.
// Returns the port that was touched; the volume shows up a moment later,
// which is what the deployer's retry loop is for.
func ResetToBootloader(portName string) (string, error) {
	if portName == "" || portName == "auto" {
		found, err := FindResetPort()
		if err != nil {
			return "", err
		}
		portName = found
	}
	mode := &serial.Mode{BaudRate: resetBaudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return "", fmt.Errorf("can't open %s for bootloader reset: %w", portName, err)
	}
	// Dropping DTR is the actual trigger on most cores; the baud rate alone
	// is enough on some. Do both, then let go.
	port.SetDTR(false)
	time.Sleep(resetHoldDelay)
	if err := port.Close(); err != nil {
		return "", err
	}
	return portName, nil
}
