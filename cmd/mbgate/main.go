// mbgate - Modbus TCP to MQTT register gateway
//
// mbgate mirrors MQTT device controls into Modbus registers. Modbus TCP
// clients read the last value published on the broker and their writes
// are published back as control commands.
//
// Usage:
//
//	mbgate [-config path] [-c channel-map] [-s broker-host] [-p broker-port] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-mbgate/internal/api"
	"github.com/nerrad567/gray-logic-mbgate/internal/bridges/mbgate"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/modbus"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default process configuration file path
const defaultConfigPath = "/etc/mbgate/config.yaml"

// options holds the command line.
type options struct {
	configPath   string
	registerMap  string
	brokerHost   string
	brokerPort   int
	verbose      bool
	explicitPath bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// MBGATE_CONFIG and then to the default path.
func parseFlags(args []string) (options, error) {
	var opts options

	flags := flag.NewFlagSet("mbgate", flag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "process configuration file (YAML)")
	flags.StringVar(&opts.registerMap, "c", "", "channel map file (overrides registers.path)")
	flags.StringVar(&opts.brokerHost, "s", "", "MQTT broker host (overrides mqtt.broker.host)")
	flags.IntVar(&opts.brokerPort, "p", 0, "MQTT broker port (overrides mqtt.broker.port)")
	flags.BoolVar(&opts.verbose, "v", false, "enable debug logging")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case opts.configPath != "":
		opts.explicitPath = true
	case os.Getenv("MBGATE_CONFIG") != "":
		opts.configPath = os.Getenv("MBGATE_CONFIG")
		opts.explicitPath = true
	default:
		opts.configPath = defaultConfigPath
	}

	return opts, nil
}

// loadConfig loads the process configuration and applies flag overrides.
// A missing file at the default path is not an error.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if opts.explicitPath || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg, err = config.Defaults()
		if err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
	}

	if opts.registerMap != "" {
		cfg.Registers.Path = opts.registerMap
	}
	if opts.brokerHost != "" {
		cfg.MQTT.Broker.Host = opts.brokerHost
	}
	if opts.brokerPort != 0 {
		cfg.MQTT.Broker.Port = opts.brokerPort
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mbgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// Load the channel map before touching the network: a bad map is fatal.
	regmap, err := loadRegisterMap(cfg.Registers.Path)
	if err != nil {
		return err
	}
	if regmap.Debug {
		cfg.Logging.Level = "debug"
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"config", opts.configPath,
		"registers", cfg.Registers.Path,
		"level", cfg.Logging.Level,
	)
	for _, w := range regmap.Warnings() {
		log.Warn("channel cannot convert values", "detail", w)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connection established")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	gw, err := startGateway(ctx, cfg, regmap, mqttClient, log)
	if err != nil {
		return err
	}
	defer gw.stop(log)

	// Serve Modbus TCP
	modbusServer, err := modbus.NewServer(cfg.Modbus, &registerStore{ctx: gw.context})
	if err != nil {
		return fmt.Errorf("creating Modbus server: %w", err)
	}
	modbusServer.SetLogger(log.With("component", "modbus"))
	if err := modbusServer.Start(); err != nil {
		return fmt.Errorf("starting Modbus server: %w", err)
	}
	defer func() {
		log.Info("stopping Modbus server")
		if closeErr := modbusServer.Close(); closeErr != nil {
			log.Error("error stopping Modbus server", "error", closeErr)
		}
	}()

	// Status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log.With("component", "api"),
			Channels:    gw.context,
			MQTT:        mqttClient,
			Modbus:      modbusServer,
			Bridge:      gw.bridge,
			Pump:        gw.pump,
			ModbusStats: modbusServer,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"modbus", modbusServer.URL(),
		"units", len(gw.context.UnitIDs()),
		"channels", gw.context.ChannelCount(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API (if enabled)
	// 2. Modbus server
	// 3. Bridge and publish pump
	// 4. MQTT

	return nil
}

// loadRegisterMap reads and validates the channel map.
func loadRegisterMap(path string) (*mbgate.RegisterMap, error) {
	regmap, err := mbgate.LoadRegisterMap(path)
	if err != nil {
		return nil, fmt.Errorf("loading channel map: %w", err)
	}
	if err := regmap.Validate(); err != nil {
		return nil, fmt.Errorf("channel map %s: %w", path, err)
	}
	return regmap, nil
}

// gateway groups the running core components.
type gateway struct {
	context *mbgate.ServerContext
	pump    *mbgate.Pump
	bridge  *mbgate.Bridge
}

// startGateway builds the register files, starts the publish pump and
// subscribes to every channel's control topic.
func startGateway(ctx context.Context, cfg *config.Config, regmap *mbgate.RegisterMap, mqttClient *mqtt.Client, log *logging.Logger) (*gateway, error) {
	adapter := &mqttBridgeAdapter{client: mqttClient}

	pump := mbgate.NewPump(mbgate.NewBrokerSender(adapter, cfg.MQTT.WriteSuffix), log.With("component", "pump"))

	sc, err := mbgate.BuildContext(regmap, pump)
	if err != nil {
		return nil, fmt.Errorf("building register files: %w", err)
	}

	bridge, err := mbgate.NewBridge(mbgate.BridgeOptions{
		MQTTClient: adapter,
		Context:    sc,
		Logger:     log.With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	pump.Start(ctx)
	if err := bridge.Start(ctx); err != nil {
		pump.Stop()
		return nil, fmt.Errorf("starting bridge: %w", err)
	}

	return &gateway{context: sc, pump: pump, bridge: bridge}, nil
}

func (g *gateway) stop(log *logging.Logger) {
	log.Info("stopping bridge")
	g.bridge.Stop()
	g.pump.Stop()
	stats := g.pump.Stats()
	if stats.Queued > 0 {
		log.Warn("dropped queued publishes", "count", stats.Queued)
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - mbgate bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// PublishAsync implements mbgate.MQTTClient.
func (a *mqttBridgeAdapter) PublishAsync(topic string, payload []byte, qos byte, retained bool, onComplete func(error)) {
	a.client.PublishAsync(topic, payload, qos, retained, onComplete)
}

// SubscribeMany implements mbgate.MQTTClient.
func (a *mqttBridgeAdapter) SubscribeMany(topics []string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.SubscribeMany(topics, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements mbgate.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// tableCategory maps Modbus tables to channel map categories.
var tableCategory = map[modbus.Table]mbgate.Category{
	modbus.DiscreteInputs:   mbgate.DiscreteInputs,
	modbus.Coils:            mbgate.Coils,
	modbus.InputRegisters:   mbgate.InputRegisters,
	modbus.HoldingRegisters: mbgate.HoldingRegisters,
}

// registerStore adapts a ServerContext to the Modbus server's Store.
type registerStore struct {
	ctx *mbgate.ServerContext
}

// RegisterFile implements modbus.Store.
func (s *registerStore) RegisterFile(unitID uint8, table modbus.Table) (modbus.RegisterFile, bool) {
	cat, ok := tableCategory[table]
	if !ok {
		return nil, false
	}
	blk, ok := s.ctx.Block(unitID, cat)
	if !ok {
		return nil, false
	}
	return blk, true
}
