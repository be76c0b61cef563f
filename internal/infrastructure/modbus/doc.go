// Package modbus serves register files over Modbus TCP.
//
// It wraps github.com/simonvetter/modbus: the library owns the listener,
// framing and function codes, while this package routes each request to
// the RegisterFile of the addressed unit id and table.
//
// Addresses are zero-based on the wire and one-based at the RegisterFile
// boundary. A request is answered only when its whole range is covered by
// known values; anything else is an illegal data address exception. A
// write whose values cannot be converted is an illegal data value
// exception and changes nothing.
//
// Usage:
//
//	srv, err := modbus.NewServer(cfg.Modbus, store)
//	srv.SetLogger(log)
//	if err := srv.Start(); err != nil { ... }
//	defer srv.Close()
package modbus
