package modbus

import (
	"sync"
	"sync/atomic"

	mbtcp "github.com/simonvetter/modbus"
)

// requestHandler implements the library's RequestHandler by routing each
// request to a RegisterFile. Errors returned to the library must be its
// exact exception sentinels; they are mapped to exception codes by identity.
type requestHandler struct {
	store Store

	reads          atomic.Uint64
	writes         atomic.Uint64
	illegalAddress atomic.Uint64
	illegalValue   atomic.Uint64
	deviceFailure  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

func (h *requestHandler) HandleCoils(req *mbtcp.CoilsRequest) ([]bool, error) {
	if req.IsWrite {
		return nil, h.write(req.ClientAddr, req.UnitId, Coils, req.Addr, boolsToWords(req.Args))
	}
	words, err := h.read(req.ClientAddr, req.UnitId, Coils, req.Addr, req.Quantity)
	if err != nil {
		return nil, err
	}
	return wordsToBools(words), nil
}

func (h *requestHandler) HandleDiscreteInputs(req *mbtcp.DiscreteInputsRequest) ([]bool, error) {
	words, err := h.read(req.ClientAddr, req.UnitId, DiscreteInputs, req.Addr, req.Quantity)
	if err != nil {
		return nil, err
	}
	return wordsToBools(words), nil
}

func (h *requestHandler) HandleHoldingRegisters(req *mbtcp.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		return nil, h.write(req.ClientAddr, req.UnitId, HoldingRegisters, req.Addr, req.Args)
	}
	return h.read(req.ClientAddr, req.UnitId, HoldingRegisters, req.Addr, req.Quantity)
}

func (h *requestHandler) HandleInputRegisters(req *mbtcp.InputRegistersRequest) ([]uint16, error) {
	return h.read(req.ClientAddr, req.UnitId, InputRegisters, req.Addr, req.Quantity)
}

// resolve finds the register file and checks that the request range is
// fully covered. addr is the zero-based wire address.
func (h *requestHandler) resolve(client string, unit uint8, table Table, addr uint16, count int) (RegisterFile, int, bool) {
	file, ok := h.store.RegisterFile(unit, table)
	if !ok || file == nil {
		h.illegalAddress.Add(1)
		logDebug(h.getLogger(), "modbus request for unknown unit",
			"client", client, "unit", unit, "table", table.String())
		return nil, 0, false
	}

	address := int(addr) + 1
	if !file.ValidatePresence(address, count) {
		h.illegalAddress.Add(1)
		logDebug(h.getLogger(), "modbus request outside mapped channels",
			"client", client, "unit", unit, "table", table.String(),
			"address", address, "count", count)
		return nil, 0, false
	}

	return file, address, true
}

func (h *requestHandler) read(client string, unit uint8, table Table, addr, quantity uint16) ([]uint16, error) {
	h.reads.Add(1)

	file, address, ok := h.resolve(client, unit, table, addr, int(quantity))
	if !ok {
		return nil, mbtcp.ErrIllegalDataAddress
	}

	words, err := file.Read(address, int(quantity))
	if err != nil {
		h.deviceFailure.Add(1)
		logWarn(h.getLogger(), "modbus read failed",
			"client", client, "unit", unit, "table", table.String(),
			"address", address, "error", err)
		return nil, mbtcp.ErrServerDeviceFailure
	}
	return words, nil
}

func (h *requestHandler) write(client string, unit uint8, table Table, addr uint16, values []uint16) error {
	h.writes.Add(1)

	file, address, ok := h.resolve(client, unit, table, addr, len(values))
	if !ok {
		return mbtcp.ErrIllegalDataAddress
	}

	// Topology is fixed, so once presence holds the only failure left is
	// a value that cannot be converted.
	if err := file.Write(address, values); err != nil {
		h.illegalValue.Add(1)
		logWarn(h.getLogger(), "modbus write rejected",
			"client", client, "unit", unit, "table", table.String(),
			"address", address, "count", len(values), "error", err)
		return mbtcp.ErrIllegalDataValue
	}
	return nil
}

func (h *requestHandler) stats() Stats {
	return Stats{
		Reads:          h.reads.Load(),
		Writes:         h.writes.Load(),
		IllegalAddress: h.illegalAddress.Load(),
		IllegalValue:   h.illegalValue.Load(),
		DeviceFailure:  h.deviceFailure.Load(),
	}
}

func (h *requestHandler) setLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *requestHandler) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func boolsToWords(bits []bool) []uint16 {
	words := make([]uint16, len(bits))
	for i, b := range bits {
		if b {
			words[i] = 1
		}
	}
	return words
}

func wordsToBools(words []uint16) []bool {
	bits := make([]bool, len(words))
	for i, w := range words {
		bits[i] = w != 0
	}
	return bits
}
