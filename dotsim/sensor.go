package dotsim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/viam-modules/lorawan-enddevice/light"
)

// peakLux is the emulated ambient light at noon.
const peakLux = 10000

var errPoweredDown = errors.New("light sensor is powered down")

// LightSensor emulates an ISL29011 under a day cycle: dark at night, peaking at noon.
type LightSensor struct {
	now func() time.Time

	mu   sync.Mutex
	mode light.Mode
	res  light.Resolution
	rng  light.Range
}

// NewLightSensor returns a powered down sensor.
func NewLightSensor() *LightSensor {
	return &LightSensor{now: time.Now}
}

// SetMode sets the operating mode.
func (s *LightSensor) SetMode(ctx context.Context, m light.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	return nil
}

// SetResolution sets the ADC resolution.
func (s *LightSensor) SetResolution(ctx context.Context, r light.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = r
	return nil
}

// SetRange sets the full scale range.
func (s *LightSensor) SetRange(ctx context.Context, r light.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = r
	return nil
}

// GetData returns the ADC count for the current light level.
func (s *LightSensor) GetData(ctx context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lux float64
	switch s.mode {
	case light.PowerDown:
		return 0, errPoweredDown
	case light.ALSOnce, light.ALSCont:
		lux = dayLux(s.now())
	case light.IROnce, light.IRCont:
		lux = dayLux(s.now()) / 4
	default:
		// nothing in front of the proximity sensor.
		lux = 0
	}

	full := float64(uint32(1)<<s.res.Bits() - 1)
	counts := lux / float64(s.rng.Lux()) * full
	if counts > full {
		counts = full
	}
	return uint16(counts), nil
}

// dayLux is a half sine between 6:00 and 18:00 local time.
func dayLux(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	if hour <= 6 || hour >= 18 {
		return 0
	}
	return peakLux * math.Sin(math.Pi*(hour-6)/12)
}
