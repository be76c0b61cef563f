package mbgate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMap = `{
  "debug": true,
  "address": "0.0.0.0",
  "port": 502,
  "mqtt": {"host": "localhost", "port": 1883},
  "registers": {
    "discretes": [
      {"topic": "wb-gpio/A1_IN", "unitId": 1, "address": 0, "enabled": true, "meta_type": "switch"}
    ],
    "coils": [
      {"topic": "wb-gpio/EXT1_R3A1", "unitId": 1, "address": 0, "enabled": true, "meta_type": "switch"},
      {"topic": "wb-gpio/EXT1_R3A2", "unitId": -1, "address": -1, "enabled": false}
    ],
    "inputs": [
      {"topic": "wb-adc/Vin", "unitId": 1, "address": 0, "enabled": true, "meta_type": "voltage",
       "format": "float", "size": 4, "max": 30, "wordswap": true},
      {"topic": "wb-msw/Temperature", "unitId": 2, "address": 10, "enabled": true, "meta_type": "temperature",
       "format": "signed", "size": 2, "scale": 10, "byteswap": true}
    ],
    "holdings": [
      {"topic": "wb-dimmer/Level", "unitId": 1, "address": 4, "format": "UNSIGNED", "size": 2}
    ],
    "extras": [
      {"topic": "ignored/section"}
    ]
  }
}`

func TestParseRegisterMap(t *testing.T) {
	m, err := ParseRegisterMap(strings.NewReader(sampleMap))
	if err != nil {
		t.Fatalf("ParseRegisterMap() error = %v", err)
	}

	if !m.Debug {
		t.Error("Debug = false, want true")
	}
	if len(m.Channels) != numCategories {
		t.Errorf("categories = %d, want %d", len(m.Channels), numCategories)
	}

	coils := m.Channels[Coils]
	if len(coils) != 2 {
		t.Fatalf("coils = %d, want 2", len(coils))
	}
	if coils[0].Kind != KindDiscrete || !coils[0].Enabled || coils[0].MetaType != "switch" {
		t.Errorf("coil[0] = %+v", coils[0])
	}
	if coils[1].Enabled {
		t.Errorf("coil[1] should be disabled: %+v", coils[1])
	}

	inputs := m.Channels[InputRegisters]
	vin := inputs[0]
	if vin.Format != FormatFloat || vin.Size != 4 || vin.Scale != 1 || !vin.WordSwap || vin.ByteSwap || vin.Max != 30 {
		t.Errorf("Vin = %+v", vin)
	}
	temp := inputs[1]
	if temp.UnitID != 2 || temp.Address != 10 || temp.Scale != 10 || !temp.ByteSwap {
		t.Errorf("Temperature = %+v", temp)
	}

	level := m.Channels[HoldingRegisters][0]
	if !level.Enabled {
		t.Error("entry without enabled flag should default to enabled")
	}
	if level.Format != FormatUnsigned {
		t.Errorf("format = %q, want case-insensitive unsigned", level.Format)
	}
}

func TestParseRegisterMap_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed json", `{"registers": [`},
		{"unknown format", `{"registers": {"holdings": [{"topic": "d/c", "unitId": 1, "address": 0, "format": "double", "size": 8}]}}`},
		{"unit id out of range", `{"registers": {"coils": [{"topic": "d/c", "unitId": 256, "address": 0}]}}`},
		{"negative address on enabled entry", `{"registers": {"coils": [{"topic": "d/c", "unitId": 1, "address": -1}]}}`},
		{"address out of range", `{"registers": {"inputs": [{"topic": "d/c", "unitId": 1, "address": 65536, "format": "signed", "size": 2}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegisterMap(strings.NewReader(tt.doc))
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("ParseRegisterMap() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestParseRegisterMap_MissingCategoryHasNoEntry(t *testing.T) {
	m, err := ParseRegisterMap(strings.NewReader(`{"registers": {"coils": []}}`))
	if err != nil {
		t.Fatalf("ParseRegisterMap() error = %v", err)
	}
	if _, ok := m.Channels[Coils]; !ok {
		t.Error("empty coils list should be present")
	}
	if _, ok := m.Channels[HoldingRegisters]; ok {
		t.Error("holdings should be absent")
	}
}

func TestLoadRegisterMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wb-mqtt-mbgate.conf")
	if err := os.WriteFile(path, []byte(sampleMap), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := LoadRegisterMap(path)
	if err != nil {
		t.Fatalf("LoadRegisterMap() error = %v", err)
	}
	if got := len(m.Channels[InputRegisters]); got != 2 {
		t.Errorf("inputs = %d, want 2", got)
	}
}

func TestLoadRegisterMap_MissingFile(t *testing.T) {
	_, err := LoadRegisterMap(filepath.Join(t.TempDir(), "absent.conf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadRegisterMap() error = %v, want not exist", err)
	}
}

func TestParseCategory(t *testing.T) {
	for _, cat := range Categories {
		got, ok := ParseCategory(cat.String())
		if !ok || got != cat {
			t.Errorf("ParseCategory(%q) = %v, %v", cat.String(), got, ok)
		}
	}
	if _, ok := ParseCategory("registers"); ok {
		t.Error("ParseCategory(registers) should fail")
	}
	if s := Category(9).String(); s != "category(9)" {
		t.Errorf("String() = %q", s)
	}
}
