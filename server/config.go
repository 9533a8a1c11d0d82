package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ExceptionMode selects what Dispatch does with an error raised by a handler.
type ExceptionMode int

const (
	// ExceptionFault turns any raised error into a CodeServerError fault
	// carrying the error's message.
	ExceptionFault ExceptionMode = iota
	// ExceptionDirect copies the error's own code (see message.CodedError)
	// and message into the fault.
	ExceptionDirect
	// ExceptionRethrow returns the error from Dispatch as a *HandlerError.
	ExceptionRethrow
)

var ErrInvalidConfig = errors.New("server: invalid config")

func (m ExceptionMode) String() string {
	switch m {
	case ExceptionFault:
		return "fault"
	case ExceptionDirect:
		return "direct"
	case ExceptionRethrow:
		return "rethrow"
	}
	return fmt.Sprintf("ExceptionMode(%d)", int(m))
}

func (m ExceptionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the mode names as well as their numbers 0, 1 and 2.
func (m *ExceptionMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "fault", "0":
		*m = ExceptionFault
	case "direct", "directmap", "1":
		*m = ExceptionDirect
	case "rethrow", "2":
		*m = ExceptionRethrow
	default:
		return fmt.Errorf("%w: unknown exception handling mode %q", ErrInvalidConfig, text)
	}
	return nil
}

// Config holds the server-wide settings read once per request.
//
// DebugLevel 0 logs failures only, 1 adds per-call info and echoes debug
// messages to HTTP clients, 2 logs params and 3 logs responses.
// ResponseCharset is the character set HTTP responses are encoded in;
// characters it cannot represent are sent as \uXXXX escapes.
type Config struct {
	DebugLevel        int           `env:"DISPATCH_DEBUG_LEVEL"        envDefault:"0"`
	ResponseCharset   string        `env:"DISPATCH_RESPONSE_CHARSET"   envDefault:"UTF-8"`
	CompressResponse  bool          `env:"DISPATCH_COMPRESS_RESPONSE"  envDefault:"false"`
	ExceptionHandling ExceptionMode `env:"DISPATCH_EXCEPTION_HANDLING" envDefault:"fault"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{ResponseCharset: "UTF-8"}
}

// LoadConfig reads the configuration from DISPATCH_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that the response charset is known.
func (c Config) Validate() error {
	if c.DebugLevel < 0 {
		return fmt.Errorf("%w: debug level %d is negative", ErrInvalidConfig, c.DebugLevel)
	}
	switch c.ExceptionHandling {
	case ExceptionFault, ExceptionDirect, ExceptionRethrow:
	default:
		return fmt.Errorf("%w: exception handling %s", ErrInvalidConfig, c.ExceptionHandling)
	}
	if _, err := lookupCharset(c.ResponseCharset); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
