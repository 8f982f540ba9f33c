package main

import (
	"errors"
	"fmt"

	"github.com/srg/blemesh/internal/device"
	"github.com/srg/blemesh/scanner"
)

// Command-level errors
var (
	// ErrIncomplete indicates at least one peer did not get through the whole plan.
	ErrIncomplete = errors.New("not every peer finished the plan")
)

// FormatUserError turns err into a message for the terminal, adding a hint
// for the failures a user can act on.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v\nHint: turn Bluetooth on and grant this terminal Bluetooth access", err)
	case errors.Is(err, ErrIncomplete):
		return fmt.Sprintf("%v; see the report above", err)
	case errors.Is(err, scanner.ErrPeerLost), errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("%v\nHint: move the peripheral closer or check that it is powered", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v\nHint: check the UUIDs in the plan against the peripheral's GATT table", err)
	default:
		return err.Error()
	}
}
