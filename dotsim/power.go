package dotsim

import (
	"context"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
)

// Interrupt emulates an edge on the wake pin. It wakes a sleep that listens for interrupts.
func (d *Dot) Interrupt() {
	select {
	case d.interrupt <- struct{}{}:
	default:
	}
}

// WakePin returns the pin that wakes the radio on interrupt.
func (d *Dot) WakePin() dot.Pin {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.WakePin
}

// SetWakePin sets the wake pin, which must be able to wake the radio.
func (d *Dot) SetWakePin(p dot.Pin) error {
	return d.set("set wake pin", p.IsWakePin(), func() { d.cfg.WakePin = p })
}

// WakeMode returns the wake mode of the last sleep.
func (d *Dot) WakeMode() dot.WakeMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.WakeMode
}

// StandbyFlag reports whether the radio booted from deep sleep.
func (d *Dot) StandbyFlag() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.standby
}

// Sleep blocks until the RTC alarm after interval, an interrupt, or both, depending on mode.
// Waking from deep sleep resets the radio: RAM state is lost and dot.ErrDeepSleepReset is returned.
func (d *Dot) Sleep(ctx context.Context, interval time.Duration, mode dot.WakeMode, deep bool) error {
	if mode != dot.Interrupt && interval <= 0 {
		return invalidParam("sleep")
	}

	d.mu.Lock()
	d.cfg.WakeMode = mode
	if deep {
		if err := d.nvm.setStandby(ctx, true); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.mu.Unlock()

	// an edge from before the sleep does not wake the radio.
	select {
	case <-d.interrupt:
	default:
	}

	var alarm <-chan time.Time
	if mode != dot.Interrupt {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		alarm = timer.C
	}
	var irq <-chan struct{}
	if mode.UsesInterrupt() {
		irq = d.interrupt
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-alarm:
	case <-irq:
		d.logger.Debugf("woken by interrupt")
	}

	if !deep {
		return nil
	}
	if err := d.boot(ctx); err != nil {
		return err
	}
	return dot.ErrDeepSleepReset
}
