// Package light samples the ISL29011 ambient light sensor and builds the uplink payload.
package light

import (
	"context"
	"fmt"

	"go.viam.com/rdk/logging"
)

// Mode is the ISL29011 operating mode.
type Mode int

// ISL29011 operating modes.
const (
	PowerDown Mode = iota
	ALSOnce
	IROnce
	ProxOnce
	ALSCont
	IRCont
	ProxCont
)

func (m Mode) String() string {
	switch m {
	case PowerDown:
		return "PWR_DOWN"
	case ALSOnce:
		return "ALS_ONCE"
	case IROnce:
		return "IR_ONCE"
	case ProxOnce:
		return "PROX_ONCE"
	case ALSCont:
		return "ALS_CONT"
	case IRCont:
		return "IR_CONT"
	case ProxCont:
		return "PROX_CONT"
	default:
		return "UNKNOWN"
	}
}

// Resolution is the ADC conversion width.
type Resolution int

// ADC resolutions.
const (
	ADC16Bit Resolution = iota
	ADC12Bit
	ADC8Bit
	ADC4Bit
)

// Bits returns the conversion width.
func (r Resolution) Bits() int {
	return 16 - 4*int(r)
}

// Range is the full scale lux range.
type Range int

// Full scale ranges.
const (
	Range1000 Range = iota
	Range4000
	Range16000
	Range64000
)

// Lux returns the full scale of the range.
func (r Range) Lux() int {
	return 1000 << (2 * uint(r))
}

// Sensor is the light sensor driver.
type Sensor interface {
	SetMode(ctx context.Context, m Mode) error
	SetResolution(ctx context.Context, r Resolution) error
	SetRange(ctx context.Context, r Range) error
	GetData(ctx context.Context) (uint16, error)
}

// Read takes one sample with continuous ambient light sampling, 16 bit conversion and maximum range.
// The sensor is powered down afterwards even if the read fails.
func Read(ctx context.Context, logger logging.Logger, s Sensor) (uint16, error) {
	if err := s.SetMode(ctx, ALSCont); err != nil {
		return 0, fmt.Errorf("failed to set sensor mode: %w", err)
	}
	defer func() {
		if err := s.SetMode(ctx, PowerDown); err != nil {
			logger.Warnf("failed to power down light sensor: %v", err)
		}
	}()
	if err := s.SetResolution(ctx, ADC16Bit); err != nil {
		return 0, fmt.Errorf("failed to set sensor resolution: %w", err)
	}
	if err := s.SetRange(ctx, Range64000); err != nil {
		return 0, fmt.Errorf("failed to set sensor range: %w", err)
	}

	light, err := s.GetData(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read light sensor: %w", err)
	}
	logger.Infof("light: %d [0x%04X]", light, light)
	return light, nil
}

// Payload serializes a light reading big endian.
func Payload(light uint16) []byte {
	return []byte{byte(light >> 8), byte(light & 0xFF)}
}
