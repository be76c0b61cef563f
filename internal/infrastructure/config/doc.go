// Package config handles loading and validating the gateway process configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MBGATE_*)
//   - Validation of required fields
//   - Default value handling
//
// The channel map (which Modbus address carries which MQTT control) is a
// separate JSON document referenced by registers.path; it is parsed by the
// mbgate bridge package, not here.
//
// Security Considerations:
//   - MQTT credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/mbgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ModbusAddress())
package config
