package gpio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3"
)

var errGPIONotFound = errors.New("gpio not found")

type pinState struct {
	out   bool
	level gpio.Level
	pull  gpio.Pull
}

// Periph drives host gpios through periph.io.
type Periph struct {
	pins  map[dot.Pin]gpio.PinIO
	saved map[dot.Pin]pinState
}

// NewPeriph initializes the host drivers and looks up every mapped gpio by name, e.g. {"WAKE": "GPIO17"}.
func NewPeriph(gpios map[dot.Pin]string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host gpio drivers: %w", err)
	}
	pins := make(map[dot.Pin]gpio.PinIO, len(gpios))
	for xdot, name := range gpios {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: %s for %s", errGPIONotFound, name, xdot)
		}
		pins[xdot] = p
	}
	return newPeriphFromPins(pins), nil
}

func newPeriphFromPins(pins map[dot.Pin]gpio.PinIO) *Periph {
	return &Periph{pins: pins}
}

// Save records whether each pin drives or reads, with its level and pull.
func (p *Periph) Save(ctx context.Context) error {
	saved := make(map[dot.Pin]pinState, len(p.pins))
	for xdot, io := range p.pins {
		saved[xdot] = pinState{
			out:   isOutput(io),
			level: io.Read(),
			pull:  io.Pull(),
		}
	}
	p.saved = saved
	return nil
}

// ApplyLowPower floats the listed pins as inputs with edge detection off.
func (p *Periph) ApplyLowPower(ctx context.Context, pins []dot.Pin) error {
	var errs []error
	for _, xdot := range pins {
		io, ok := p.pins[xdot]
		if !ok {
			continue
		}
		if err := io.In(gpio.Float, gpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", xdot, err))
		}
	}
	return errors.Join(errs...)
}

// Restore writes back the state read by Save.
func (p *Periph) Restore(ctx context.Context) error {
	if p.saved == nil {
		return errNothingToRestore
	}
	var errs []error
	for xdot, state := range p.saved {
		io := p.pins[xdot]
		var err error
		if state.out {
			err = io.Out(state.level)
		} else {
			err = io.In(state.pull, gpio.NoEdge)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", xdot, err))
		}
	}
	p.saved = nil
	return errors.Join(errs...)
}

func isOutput(io gpio.PinIO) bool {
	pf, ok := io.(pin.PinFunc)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.ToLower(string(pf.Func())), "out")
}
