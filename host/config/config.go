// Package config loads the rasprc process configuration from YAML, INI or
// JSON files and turns it into engine and worker options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"rasprc/host/link"
	"rasprc/host/serial"
	"rasprc/host/worker"
	"rasprc/protocol"
)

// Duration is a time.Duration written as "50ms" or "2s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the full process configuration.
type Config struct {
	Radio    RadioSection  `yaml:"radio" json:"radio"`
	Link     LinkSection   `yaml:"link" json:"link"`
	Worker   WorkerSection `yaml:"worker" json:"worker"`
	LogLevel string        `yaml:"log_level" json:"log_level"`
}

// RadioSection is the module configuration applied at startup.
type RadioSection struct {
	Port      string `yaml:"port" json:"port"`
	Baud      int    `yaml:"baud" json:"baud"`
	Rate      int    `yaml:"rate" json:"rate"`
	Channel   int    `yaml:"channel" json:"channel"`
	CRC       int    `yaml:"crc" json:"crc"`
	RXAddress string `yaml:"rx_address" json:"rx_address"`
	TXAddress string `yaml:"tx_address" json:"tx_address"`
}

// LinkSection tunes the serial transport and the AT exchanges.
type LinkSection struct {
	Driver           string   `yaml:"driver" json:"driver"`
	LineTerminator   string   `yaml:"line_terminator" json:"line_terminator"` // crlf, lf, cr or literal
	ReadTimeout      Duration `yaml:"read_timeout" json:"read_timeout"`
	SettleDelay      Duration `yaml:"settle_delay" json:"settle_delay"`
	ResponseTimeout  Duration `yaml:"response_timeout" json:"response_timeout"`
	MinResponseBytes int      `yaml:"min_response_bytes" json:"min_response_bytes"`
	PauseTimeout     Duration `yaml:"pause_timeout" json:"pause_timeout"`
	ApplyOnStart     *bool    `yaml:"apply_on_start" json:"apply_on_start"`
}

// WorkerSection selects the role and tick rate.
type WorkerSection struct {
	Role     string   `yaml:"role" json:"role"`
	Period   Duration `yaml:"period" json:"period"`
	Channels []int    `yaml:"channels" json:"channels"` // static transmitter values
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig presets the fields whose zero value is meaningful, so a file
// may set them to zero explicitly.
func newConfig() *Config {
	return &Config{
		Radio: RadioSection{Channel: protocol.DefaultRadioConfig().Channel},
	}
}

// DefaultPath returns ~/.rasprc/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".rasprc", "config.yaml")
	}
	return filepath.Join(home, ".rasprc", "config.yaml")
}

// Load reads path, choosing the format from its extension. A missing file
// yields the defaults with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format: yaml, yml, ini or json.
func Parse(data []byte, format string) (*Config, error) {
	cfg := newConfig()

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case "ini":
		if err := parseINI(data, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// parseINI reads the same keys as the YAML form, with sections [radio],
// [link] and [worker] and log_level at the top.
func parseINI(data []byte, cfg *Config) error {
	f, err := ini.Load(data)
	if err != nil {
		return err
	}

	cfg.LogLevel = f.Section("").Key("log_level").String()

	radio := f.Section("radio")
	cfg.Radio.Port = radio.Key("port").String()
	cfg.Radio.Baud = radio.Key("baud").MustInt(0)
	cfg.Radio.Rate = radio.Key("rate").MustInt(0)
	cfg.Radio.Channel = radio.Key("channel").MustInt(cfg.Radio.Channel)
	cfg.Radio.CRC = radio.Key("crc").MustInt(0)
	cfg.Radio.RXAddress = radio.Key("rx_address").String()
	cfg.Radio.TXAddress = radio.Key("tx_address").String()

	l := f.Section("link")
	cfg.Link.Driver = l.Key("driver").String()
	cfg.Link.LineTerminator = l.Key("line_terminator").String()
	cfg.Link.MinResponseBytes = l.Key("min_response_bytes").MustInt(0)
	for key, dst := range map[string]*Duration{
		"read_timeout":     &cfg.Link.ReadTimeout,
		"settle_delay":     &cfg.Link.SettleDelay,
		"response_timeout": &cfg.Link.ResponseTimeout,
		"pause_timeout":    &cfg.Link.PauseTimeout,
	} {
		if !l.HasKey(key) {
			continue
		}
		d, err := l.Key(key).Duration()
		if err != nil {
			return fmt.Errorf("link.%s: %w", key, err)
		}
		*dst = Duration(d)
	}
	if l.HasKey("apply_on_start") {
		v, err := l.Key("apply_on_start").Bool()
		if err != nil {
			return fmt.Errorf("link.apply_on_start: %w", err)
		}
		cfg.Link.ApplyOnStart = &v
	}

	w := f.Section("worker")
	cfg.Worker.Role = w.Key("role").String()
	if w.HasKey("period") {
		d, err := w.Key("period").Duration()
		if err != nil {
			return fmt.Errorf("worker.period: %w", err)
		}
		cfg.Worker.Period = Duration(d)
	}
	if w.HasKey("channels") {
		vals, err := w.Key("channels").StrictInts(",")
		if err != nil {
			return fmt.Errorf("worker.channels: %w", err)
		}
		cfg.Worker.Channels = vals
	}
	return nil
}

// applyDefaults fills in missing values with the module factory settings
func applyDefaults(cfg *Config) {
	def := protocol.DefaultRadioConfig()
	opts := link.DefaultOptions()

	if cfg.Radio.Port == "" {
		cfg.Radio.Port = def.PortName
	}
	if cfg.Radio.Baud == 0 {
		cfg.Radio.Baud = def.BaudRate
	}
	if cfg.Radio.Rate == 0 {
		cfg.Radio.Rate = def.Rate
	}
	if cfg.Radio.CRC == 0 {
		cfg.Radio.CRC = def.CRC
	}
	if cfg.Radio.RXAddress == "" {
		cfg.Radio.RXAddress = def.RXAddress
	}
	if cfg.Radio.TXAddress == "" {
		cfg.Radio.TXAddress = def.TXAddress
	}

	if cfg.Link.Driver == "" {
		cfg.Link.Driver = serial.DriverTarm
	}
	if cfg.Link.LineTerminator == "" {
		cfg.Link.LineTerminator = "crlf"
	}
	if cfg.Link.ReadTimeout == 0 {
		cfg.Link.ReadTimeout = Duration(opts.ReadTimeout)
	}
	if cfg.Link.SettleDelay == 0 {
		cfg.Link.SettleDelay = Duration(opts.SettleDelay)
	}
	if cfg.Link.ResponseTimeout == 0 {
		cfg.Link.ResponseTimeout = Duration(opts.ResponseTimeout)
	}
	if cfg.Link.MinResponseBytes == 0 {
		cfg.Link.MinResponseBytes = opts.MinResponseBytes
	}
	if cfg.Link.PauseTimeout == 0 {
		cfg.Link.PauseTimeout = Duration(opts.PauseTimeout)
	}
	if cfg.Link.ApplyOnStart == nil {
		on := true
		cfg.Link.ApplyOnStart = &on
	}

	if cfg.Worker.Role == "" {
		cfg.Worker.Role = worker.RoleTransmitter.String()
	}
	if cfg.Worker.Period == 0 {
		cfg.Worker.Period = Duration(worker.DefaultPeriod)
	}
	if len(cfg.Worker.Channels) == 0 {
		cfg.Worker.Channels = protocol.NeutralFrame().Values()
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks the radio settings, role, static channels and log level.
func (c *Config) Validate() error {
	if err := protocol.ValidateRadioConfig(c.RadioConfig(), protocol.AddressRaw).Err(); err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	if _, err := worker.ParseRole(c.Worker.Role); err != nil {
		return err
	}
	if err := protocol.ValidateChannelFrame(c.Worker.Channels).Err(); err != nil {
		return fmt.Errorf("worker.channels: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Link.Driver {
	case serial.DriverTarm, serial.DriverBugst:
	default:
		return fmt.Errorf("link.driver: unknown serial driver %q", c.Link.Driver)
	}
	return nil
}

// RadioConfig returns the radio section as a protocol config.
func (c *Config) RadioConfig() protocol.RadioConfig {
	return protocol.RadioConfig{
		PortName:  c.Radio.Port,
		BaudRate:  c.Radio.Baud,
		Rate:      c.Radio.Rate,
		Channel:   c.Radio.Channel,
		CRC:       c.Radio.CRC,
		RXAddress: strings.ToUpper(c.Radio.RXAddress),
		TXAddress: strings.ToUpper(c.Radio.TXAddress),
	}
}

// FromRadioConfig converts a module configuration back to its file form.
func FromRadioConfig(rc protocol.RadioConfig) RadioSection {
	return RadioSection{
		Port:      rc.PortName,
		Baud:      rc.BaudRate,
		Rate:      rc.Rate,
		Channel:   rc.Channel,
		CRC:       rc.CRC,
		RXAddress: rc.RXAddress,
		TXAddress: rc.TXAddress,
	}
}

// Terminator resolves the configured line terminator name.
func (c *Config) Terminator() string {
	switch strings.ToLower(c.Link.LineTerminator) {
	case "crlf":
		return "\r\n"
	case "lf":
		return "\n"
	case "cr":
		return "\r"
	default:
		return c.Link.LineTerminator
	}
}

// ApplyOnStart reports whether the radio section is written to the module
// when the link opens.
func (c *Config) ApplyOnStart() bool {
	return c.Link.ApplyOnStart == nil || *c.Link.ApplyOnStart
}

// Level returns the parsed log level, info if unparsable.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// EngineOptions builds link options from the configuration.
func (c *Config) EngineOptions(logger *zerolog.Logger) link.Options {
	opts := link.DefaultOptions()
	opts.Radio = c.RadioConfig()
	opts.Driver = c.Link.Driver
	opts.ReadTimeout = time.Duration(c.Link.ReadTimeout)
	opts.LineTerminator = c.Terminator()
	opts.SettleDelay = time.Duration(c.Link.SettleDelay)
	opts.ResponseTimeout = time.Duration(c.Link.ResponseTimeout)
	opts.MinResponseBytes = c.Link.MinResponseBytes
	opts.PauseTimeout = time.Duration(c.Link.PauseTimeout)
	opts.Logger = logger
	return opts
}

// WorkerOptions builds worker options. The transmitter gets a static
// source holding the configured channel values.
func (c *Config) WorkerOptions(logger *zerolog.Logger) (worker.Options, error) {
	role, err := worker.ParseRole(c.Worker.Role)
	if err != nil {
		return worker.Options{}, err
	}
	return worker.Options{
		Role:   role,
		Period: time.Duration(c.Worker.Period),
		Source: worker.NewStaticSource(c.Worker.Channels...),
		Logger: logger,
	}, nil
}
