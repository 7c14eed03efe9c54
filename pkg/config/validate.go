package config

import (
	"fmt"
	"net/url"

	"github.com/plc-monitor/plcpoll-go/pkg/transport"
)

// FieldError reports an invalid configuration value. Field is the path of
// the offending value, e.g. "devices[1].registers[0].words".
type FieldError struct {
	File    string
	Field   string
	Message string
	Cause   error
}

func (e *FieldError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FieldError) Unwrap() error { return e.Cause }

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns the first invalid field.
func (c *Config) Validate() error {
	if c.Emitter.QueueCapacity < 1 {
		return fieldErr("emitter.queue_capacity", "must be at least 1, got %d", c.Emitter.QueueCapacity)
	}

	for i, s := range c.Sinks {
		if err := s.validate(fmt.Sprintf("sinks[%d]", i)); err != nil {
			return err
		}
	}

	if len(c.Devices) == 0 {
		return fieldErr("devices", "at least one device is required")
	}

	names := make(map[string]int, len(c.Devices))
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if prev, ok := names[d.Name]; ok && d.Name != "" {
			return fieldErr(prefix+".name", "duplicate device name %q (also devices[%d])", d.Name, prev)
		}
		names[d.Name] = i

		if err := d.validate(prefix); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single device configuration.
func (d DeviceConfig) Validate() error {
	return d.validate("device")
}

func (d DeviceConfig) validate(prefix string) error {
	if d.Name == "" {
		return fieldErr(prefix+".name", "is required")
	}
	if d.Host == "" {
		return fieldErr(prefix+".host", "is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fieldErr(prefix+".port", "must be 1-65535, got %d", d.Port)
	}
	if _, err := ParseProtocol(string(d.Protocol)); err != nil {
		return &FieldError{Field: prefix + ".protocol", Message: "invalid protocol", Cause: err}
	}
	if d.ReadTimeout <= 0 {
		return fieldErr(prefix+".read_timeout", "must be positive")
	}
	if d.ConnectTimeout <= 0 {
		return fieldErr(prefix+".connect_timeout", "must be positive")
	}
	if d.PollInterval <= 0 {
		return fieldErr(prefix+".poll_interval", "must be positive")
	}

	b := d.Backoff
	if b.BaseDelay <= 0 {
		return fieldErr(prefix+".backoff.base_delay", "must be positive")
	}
	if b.MaxDelay < b.BaseDelay {
		return fieldErr(prefix+".backoff.max_delay", "must be >= base_delay (%s), got %s", b.BaseDelay, b.MaxDelay)
	}
	if b.MaxExponent < 1 || b.MaxExponent > 62 {
		return fieldErr(prefix+".backoff.max_exponent", "must be 1-62, got %d", b.MaxExponent)
	}
	if b.Jitter >= 1 {
		return fieldErr(prefix+".backoff.jitter", "must be below 1, got %g", b.Jitter)
	}

	if len(d.Registers) == 0 {
		return fieldErr(prefix+".registers", "at least one register block is required")
	}
	labels := make(map[string]bool, len(d.Registers))
	for j, r := range d.Registers {
		rp := fmt.Sprintf("%s.registers[%d]", prefix, j)
		if err := r.validate(rp, d.Protocol); err != nil {
			return err
		}
		if labels[r.Label] {
			return fieldErr(rp+".label", "duplicate label %q", r.Label)
		}
		labels[r.Label] = true
	}
	return nil
}

func (r RegisterBlock) validate(prefix string, p Protocol) error {
	if r.Address == "" {
		return fieldErr(prefix+".address", "is required")
	}

	var err error
	switch p {
	case ProtocolSLMP:
		_, err = transport.ParseSLMPAddress(r.Address)
	case ProtocolModbusTCP:
		_, err = transport.ParseModbusAddress(r.Address)
	}
	if err != nil {
		return &FieldError{Field: prefix + ".address", Message: "invalid address", Cause: err}
	}

	if r.Words < 1 || r.Words > MaxWordsPerBlock {
		return fieldErr(prefix+".words", "must be 1-%d, got %d", MaxWordsPerBlock, r.Words)
	}
	if !r.Type.valid() {
		return fieldErr(prefix+".type", "unknown data type %q", r.Type)
	}
	if r.Words%r.Type.WordsPerValue() != 0 {
		return fieldErr(prefix+".words", "%d words is not a whole number of %s values", r.Words, r.Type)
	}
	return nil
}

func (s SinkConfig) validate(prefix string) error {
	switch s.Type {
	case SinkLog:
		return nil
	case SinkFile, SinkSQLite:
		if s.Path == "" {
			return fieldErr(prefix+".path", "is required for %s sinks", s.Type)
		}
		return nil
	case SinkHTTP:
		u, err := url.Parse(s.URL)
		if err != nil || s.URL == "" {
			return &FieldError{Field: prefix + ".url", Message: "a valid URL is required", Cause: err}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fieldErr(prefix+".url", "scheme must be http or https, got %q", u.Scheme)
		}
		return nil
	default:
		return fieldErr(prefix+".type", "unknown sink type %q", s.Type)
	}
}
