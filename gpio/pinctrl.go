// Package gpio saves, reconfigures and restores host IOs wired to the xDot external pins.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/viam-modules/lorawan-enddevice/dot"
)

var (
	errPinNotMapped     = errors.New("pin is not mapped to a host gpio")
	errPinctrlOutput    = errors.New("unexpected pinctrl output")
	errNothingToRestore = errors.New("no saved io state to restore")
)

type runFunc func(ctx context.Context, args ...string) ([]byte, error)

func runPinctrl(ctx context.Context, args ...string) ([]byte, error) {
	//nolint:gosec
	cmd := exec.CommandContext(ctx, "pinctrl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("pinctrl %s: %w output: %s", strings.Join(args, " "), err, string(output))
	}
	return output, nil
}

// Pinctrl drives Raspberry Pi header pins with the pinctrl tool.
type Pinctrl struct {
	gpios map[dot.Pin]string
	saved map[dot.Pin][]string
	run   runFunc
}

// NewPinctrl maps xDot IOs to BCM gpio numbers, e.g. {"WAKE": "17"}.
func NewPinctrl(gpios map[dot.Pin]string) *Pinctrl {
	return &Pinctrl{gpios: gpios, run: runPinctrl}
}

// Save reads the function, drive and pull of every mapped pin.
func (p *Pinctrl) Save(ctx context.Context) error {
	saved := map[dot.Pin][]string{}
	for xdot, gpio := range p.gpios {
		out, err := p.run(ctx, "get", gpio)
		if err != nil {
			return err
		}
		state, err := parsePinctrlState(string(out))
		if err != nil {
			return fmt.Errorf("%s (gpio %s): %w", xdot, gpio, err)
		}
		saved[xdot] = state
	}
	p.saved = saved
	return nil
}

// ApplyLowPower sets the listed pins to input with no pull. Unmapped pins are skipped.
func (p *Pinctrl) ApplyLowPower(ctx context.Context, pins []dot.Pin) error {
	var errs []error
	for _, xdot := range pins {
		gpio, ok := p.gpios[xdot]
		if !ok {
			continue
		}
		if _, err := p.run(ctx, "set", gpio, "ip", "pn"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore writes back the state read by Save.
func (p *Pinctrl) Restore(ctx context.Context) error {
	if p.saved == nil {
		return errNothingToRestore
	}
	var errs []error
	for xdot, state := range p.saved {
		args := append([]string{"set", p.gpios[xdot]}, state...)
		if _, err := p.run(ctx, args...); err != nil {
			errs = append(errs, err)
		}
	}
	p.saved = nil
	return errors.Join(errs...)
}

// parsePinctrlState pulls the settable fields out of a pinctrl get line:
//
//	17: op dh pu | hi // GPIO17 = output
func parsePinctrlState(line string) ([]string, error) {
	_, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", errPinctrlOutput, line)
	}
	fields, _, ok := strings.Cut(rest, "|")
	if !ok {
		return nil, fmt.Errorf("%w: %q", errPinctrlOutput, line)
	}
	state := strings.Fields(fields)
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: %q", errPinctrlOutput, line)
	}
	return state, nil
}

// ParseMapping converts a config pin map, e.g. {"wake": "17"}, to xDot IO keys.
func ParseMapping(m map[string]string) (map[dot.Pin]string, error) {
	out := make(map[dot.Pin]string, len(m))
	for name, gpio := range m {
		p, err := dot.ParsePin(name)
		if err != nil {
			return nil, err
		}
		if gpio == "" {
			return nil, fmt.Errorf("%w: %s", errPinNotMapped, p)
		}
		out[p] = gpio
	}
	return out, nil
}
