package modbus

import "errors"

// Domain-specific errors for the Modbus TCP server.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotRunning is returned by health checks when the listener is down.
	ErrNotRunning = errors.New("modbus: server not running")

	// ErrStartFailed is returned when the listener cannot be opened.
	ErrStartFailed = errors.New("modbus: server start failed")

	// ErrNoStore is returned when a server is created without a register store.
	ErrNoStore = errors.New("modbus: register store is required")
)
