// Package config holds the runtime settings of a diagnostic session.
package config

import (
	"errors"
	"fmt"
	"time"

	"vehiclediag/drivers"
	"vehiclediag/isotp"
	"vehiclediag/logging"
	"vehiclediag/utils"
)

const (
	// AnyPort selects the first detected adapter
	AnyPort = "*"

	DefaultTesterID              uint16 = 0x7E0
	DefaultECUID                 uint16 = 0x7E8
	DefaultResponseTimeout              = 3 * time.Second
	DefaultPendingTimeout               = 5 * time.Second
	DefaultMaxPendingRetries            = 5
	DefaultTesterPresentInterval        = 2 * time.Second
	DefaultSecurityLevel                = 1

	maxCanID = 0x7FF
)

type Config struct {
	Port     string
	BaudRate int

	TesterID uint16
	ECUID    uint16
	// WrapToZero follows ISO 15765-2 sequence numbering on the live link
	WrapToZero bool

	// ResponseTimeout bounds one request/response exchange
	ResponseTimeout time.Duration
	// PendingTimeout replaces ResponseTimeout after the ECU answered ResponsePending
	PendingTimeout    time.Duration
	MaxPendingRetries int

	TesterPresentInterval time.Duration

	// Vehicle selects the manufacturer protocol and key algorithm, e.g. "VW Golf"
	Vehicle       string
	SecurityLevel int
	// SafeMode refuses every write to the ECU
	SafeMode bool
	// WorkshopCode is stamped on adaptation and coding writes
	WorkshopCode uint16

	LogLevel string
}

func Default() Config {
	return Config{
		Port:                  AnyPort,
		BaudRate:              drivers.ArduinoBaudRate,
		TesterID:              DefaultTesterID,
		ECUID:                 DefaultECUID,
		WrapToZero:            true,
		ResponseTimeout:       DefaultResponseTimeout,
		PendingTimeout:        DefaultPendingTimeout,
		MaxPendingRetries:     DefaultMaxPendingRetries,
		TesterPresentInterval: DefaultTesterPresentInterval,
		SecurityLevel:         DefaultSecurityLevel,
		SafeMode:              true,
		LogLevel:              "info",
	}
}

// Validate reports every invalid field, each wrapping utils.ErrInvalidInput.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{utils.ErrInvalidInput}, args...)...))
	}

	if c.Port == "" {
		invalid("port is empty, use %q for auto detection", AnyPort)
	}
	if c.BaudRate <= 0 {
		invalid("baud rate %d", c.BaudRate)
	}
	if c.TesterID > maxCanID || c.ECUID > maxCanID {
		invalid("can ids 0x%X/0x%X exceed 11 bits", c.TesterID, c.ECUID)
	}
	if c.TesterID == c.ECUID {
		invalid("tester and ecu share can id 0x%X", c.TesterID)
	}
	if c.ResponseTimeout <= 0 {
		invalid("response timeout %s", c.ResponseTimeout)
	}
	if c.PendingTimeout <= 0 {
		invalid("pending timeout %s", c.PendingTimeout)
	}
	if c.MaxPendingRetries < 0 {
		invalid("max pending retries %d", c.MaxPendingRetries)
	}
	if c.TesterPresentInterval <= 0 {
		invalid("tester present interval %s", c.TesterPresentInterval)
	}
	if c.SecurityLevel < 1 || c.SecurityLevel > 0x3F {
		invalid("security level %d", c.SecurityLevel)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Transport returns the ISO-TP addressing for this configuration.
func (c Config) Transport() isotp.TransportConfig {
	return isotp.TransportConfig{
		TesterID:     c.TesterID,
		ECUID:        c.ECUID,
		FrameTimeout: isotp.DefaultFrameTimeout,
		WrapToZero:   c.WrapToZero,
	}
}
