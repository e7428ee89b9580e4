package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/light"
)

var errSensorPoweredDown = errors.New("sensor is powered down")

// FakePins records pin calls into the call log of a FakeDot, so ordering against radio calls can be checked.
type FakePins struct {
	dot     *FakeDot
	Applied [][]dot.Pin
	SaveErr error
}

// NewFakePins returns pins recording into d.
func NewFakePins(d *FakeDot) *FakePins {
	return &FakePins{dot: d}
}

func (p *FakePins) record(call string) {
	p.dot.mu.Lock()
	defer p.dot.mu.Unlock()
	p.dot.record(call)
}

// Save records "save io".
func (p *FakePins) Save(ctx context.Context) error {
	p.record("save io")
	return p.SaveErr
}

// ApplyLowPower records "apply low power" and the profile.
func (p *FakePins) ApplyLowPower(ctx context.Context, pins []dot.Pin) error {
	p.record("apply low power")
	p.Applied = append(p.Applied, pins)
	return nil
}

// Restore records "restore io".
func (p *FakePins) Restore(ctx context.Context) error {
	p.record("restore io")
	return nil
}

// FakeSensor is a light.Sensor returning Value while powered up.
type FakeSensor struct {
	mu      sync.Mutex
	Value   uint16
	ReadErr error
	Modes   []light.Mode
	Res     light.Resolution
	Rng     light.Range
}

// SetMode records the mode.
func (s *FakeSensor) SetMode(ctx context.Context, m light.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Modes = append(s.Modes, m)
	return nil
}

// SetResolution records the resolution.
func (s *FakeSensor) SetResolution(ctx context.Context, r light.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Res = r
	return nil
}

// SetRange records the range.
func (s *FakeSensor) SetRange(ctx context.Context, r light.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rng = r
	return nil
}

// GetData returns Value, or ReadErr when set.
func (s *FakeSensor) GetData(ctx context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if len(s.Modes) > 0 && s.Modes[len(s.Modes)-1] == light.PowerDown {
		return 0, errSensorPoweredDown
	}
	return s.Value, nil
}

// LastMode returns the last mode set.
func (s *FakeSensor) LastMode() light.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Modes) == 0 {
		return light.PowerDown
	}
	return s.Modes[len(s.Modes)-1]
}
