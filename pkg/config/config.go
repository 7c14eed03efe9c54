package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty in the configuration file.
const (
	DefaultSLMPPort       = 5007
	DefaultModbusPort     = 502
	DefaultPollInterval   = 1 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultConnectTimeout = 5 * time.Second

	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultMaxExponent = 16
	DefaultJitter      = 0.2

	DefaultTick           = 1 * time.Second
	DefaultShutdownGrace  = 10 * time.Second
	DefaultStatusInterval = 1 * time.Minute
	DefaultQueueCapacity  = 256
	DefaultWriteTimeout   = 5 * time.Second

	// MaxWordsPerBlock bounds a single register block. Modbus allows 125
	// registers per request; SLMP batch reads allow 960 words. The smaller
	// limit keeps one register map portable across both protocols.
	MaxWordsPerBlock = 125
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "PLCPOLL_LOG_LEVEL"
	EnvShutdownGrace = "PLCPOLL_SHUTDOWN_GRACE"
	EnvQueueCapacity = "PLCPOLL_QUEUE_CAPACITY"
)

// Protocol is the wire protocol spoken by a device.
type Protocol string

const (
	ProtocolSLMP      Protocol = "slmp"
	ProtocolModbusTCP Protocol = "modbus-tcp"
)

// ParseProtocol maps a protocol name, including the vendor aliases accepted
// by older deployments, to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slmp", "mitsubishi", "fx5u", "mc", "mc3e":
		return ProtocolSLMP, nil
	case "modbus", "modbustcp", "modbus_tcp", "modbus-tcp":
		return ProtocolModbusTCP, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", s)
	}
}

// DefaultPort returns the well-known port for the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolModbusTCP {
		return DefaultModbusPort
	}
	return DefaultSLMPPort
}

// DataType selects how a block's words are decoded into numbers.
type DataType string

const (
	TypeUint16  DataType = "uint16"
	TypeInt16   DataType = "int16"
	TypeUint32  DataType = "uint32"
	TypeInt32   DataType = "int32"
	TypeFloat32 DataType = "float32"
)

// WordsPerValue returns how many 16-bit words one value of the type uses.
func (t DataType) WordsPerValue() int {
	switch t {
	case TypeUint32, TypeInt32, TypeFloat32:
		return 2
	default:
		return 1
	}
}

func (t DataType) valid() bool {
	switch t {
	case TypeUint16, TypeInt16, TypeUint32, TypeInt32, TypeFloat32:
		return true
	}
	return false
}

// RegisterBlock is one contiguous read: Words words starting at Address.
type RegisterBlock struct {
	Address string   `yaml:"address"`
	Words   int      `yaml:"words"`
	Label   string   `yaml:"label"`
	Type    DataType `yaml:"type"`
}

// BackoffPolicy parameterizes reconnection delays.
type BackoffPolicy struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxExponent int           `yaml:"max_exponent"`
	Jitter      float64       `yaml:"jitter"`
}

// DeviceConfig describes one PLC.
type DeviceConfig struct {
	Name     string   `yaml:"name"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Protocol Protocol `yaml:"protocol"`

	// UnitID is the Modbus unit identifier. Ignored for SLMP.
	UnitID uint8 `yaml:"unit_id"`

	Registers []RegisterBlock `yaml:"registers"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// StaleAfter is how long a device may go without a successful read
	// before its status is reported unhealthy. Defaults to 3 poll intervals.
	StaleAfter time.Duration `yaml:"stale_after"`

	Backoff BackoffPolicy `yaml:"backoff"`

	// Enabled is a pointer so an absent key defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the device should be polled at startup.
func (d DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Address returns host:port.
func (d DeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// EmitterConfig sizes the snapshot queue in front of the sinks.
type EmitterConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// SinkType selects a sink implementation.
type SinkType string

const (
	SinkFile   SinkType = "file"
	SinkSQLite SinkType = "sqlite"
	SinkLog    SinkType = "log"
	SinkHTTP   SinkType = "http"
)

// SinkConfig configures one downstream sink.
type SinkConfig struct {
	Type SinkType `yaml:"type"`

	// Path is the file or database path (file, sqlite).
	Path string `yaml:"path"`

	// URL is the ingest endpoint (http).
	URL string `yaml:"url"`

	// CAFile optionally pins the CA for an https endpoint (http).
	CAFile string `yaml:"ca_file"`
}

// Config is the complete service configuration.
type Config struct {
	LogLevel       string        `yaml:"log_level"`
	Tick           time.Duration `yaml:"tick"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	StatusInterval time.Duration `yaml:"status_interval"`

	// StateFile persists sequence numbers across restarts. Empty disables
	// persistence.
	StateFile string `yaml:"state_file"`

	Emitter EmitterConfig  `yaml:"emitter"`
	Sinks   []SinkConfig   `yaml:"sinks"`
	Devices []DeviceConfig `yaml:"devices"`
}

// Parse decodes, defaults and validates a YAML configuration. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FieldError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		if fe, ok := err.(*FieldError); ok {
			fe.File = path
		}
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &FieldError{Message: "failed to parse YAML", Cause: err}
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvShutdownGrace); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &FieldError{Field: EnvShutdownGrace, Message: "invalid duration", Cause: err}
		}
		c.ShutdownGrace = d
	}
	if v, ok := lookup(EnvQueueCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &FieldError{Field: EnvQueueCapacity, Message: "invalid integer", Cause: err}
		}
		c.Emitter.QueueCapacity = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.Emitter.QueueCapacity == 0 {
		c.Emitter.QueueCapacity = DefaultQueueCapacity
	}
	if c.Emitter.WriteTimeout <= 0 {
		c.Emitter.WriteTimeout = DefaultWriteTimeout
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: SinkLog}}
	}

	for i := range c.Devices {
		c.Devices[i].applyDefaults()
	}
}

func (d *DeviceConfig) applyDefaults() {
	if p, err := ParseProtocol(string(d.Protocol)); err == nil {
		d.Protocol = p
	}
	if d.Port == 0 {
		d.Port = d.Protocol.DefaultPort()
	}
	if d.Protocol == ProtocolModbusTCP && d.UnitID == 0 {
		d.UnitID = 1
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.ReadTimeout <= 0 {
		d.ReadTimeout = DefaultReadTimeout
	}
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = DefaultConnectTimeout
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 3 * d.PollInterval
	}
	if d.Backoff.BaseDelay <= 0 {
		d.Backoff.BaseDelay = DefaultBaseDelay
	}
	if d.Backoff.MaxDelay <= 0 {
		d.Backoff.MaxDelay = DefaultMaxDelay
	}
	if d.Backoff.MaxExponent <= 0 {
		d.Backoff.MaxExponent = DefaultMaxExponent
	}
	if d.Backoff.Jitter == 0 {
		d.Backoff.Jitter = DefaultJitter
	}
	for i := range d.Registers {
		if d.Registers[i].Type == "" {
			d.Registers[i].Type = TypeUint16
		}
		if d.Registers[i].Label == "" {
			d.Registers[i].Label = d.Registers[i].Address
		}
	}
}

// SlogLevel converts LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown names
// map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
