// Package lowpower puts the radio to sleep between transmissions.
package lowpower

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"go.viam.com/rdk/logging"
)

// MinSleep is the shortest sleep between transmissions.
const MinSleep = 10 * time.Second

var errUnknownSleepMode = errors.New("unknown sleep mode, expected deepsleep or sleep")

// SleepMode selects between sleep and deep sleep.
// In sleep IO state and RAM are retained and the application resumes on wake.
// In deep sleep IOs float, RAM is lost and the application starts from the beginning.
type SleepMode int

const (
	// Deep draws slightly less current than Light.
	Deep SleepMode = iota
	// Light keeps RAM and IO state.
	Light
)

func (m SleepMode) String() string {
	if m == Light {
		return "sleep"
	}
	return "deepsleep"
}

// ParseSleepMode parses a sleep mode name.
func ParseSleepMode(s string) (SleepMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deepsleep", "deep", "":
		return Deep, nil
	case "sleep", "light":
		return Light, nil
	default:
		return Deep, fmt.Errorf("%w: %q", errUnknownSleepMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m SleepMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SleepMode) UnmarshalText(text []byte) error {
	parsed, err := ParseSleepMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SleepDuration is the time to sleep for a duty cycle delay, truncated to whole seconds and never under MinSleep.
func SleepDuration(nextTx time.Duration) time.Duration {
	d := nextTx.Truncate(time.Second)
	if d < MinSleep {
		return MinSleep
	}
	return d
}

// LowPowerProfile lists the IOs to put in their lowest current state before a light sleep.
// The wake pin is left alone when the wake mode can use it.
func LowPowerProfile(wakePin dot.Pin, wakeMode dot.WakeMode) []dot.Pin {
	// UART1_RX is not here, it could be a wake source.
	profile := []dot.Pin{
		dot.UART1TX, dot.UART1RTS, dot.UART1CTS,
		dot.I2CSDA, dot.I2CSCL,
		dot.SPIMOSI, dot.SPIMISO, dot.SPISCK, dot.SPINSS,
	}
	for _, p := range dot.WakePins {
		if p != wakePin || !wakeMode.UsesInterrupt() {
			profile = append(profile, p)
		}
	}
	return profile
}

// Pins saves, reconfigures and restores the external IOs around a light sleep.
// The radio library handles its internal IOs, the external ones are ours.
type Pins interface {
	Save(ctx context.Context) error
	ApplyLowPower(ctx context.Context, pins []dot.Pin) error
	Restore(ctx context.Context) error
}

// Radio is the part of the radio the orchestrator drives.
type Radio interface {
	dot.Power
	NextTxDelay() time.Duration
	SaveNetworkSession(ctx context.Context) error
}

// Orchestrator sequences session persistence, IO configuration and the radio sleep call.
type Orchestrator struct {
	radio   Radio
	pins    Pins
	wake    dot.WakeMode
	wakePin dot.Pin
	logger  logging.Logger
}

// NewOrchestrator returns an orchestrator waking on wake, using wakePin for interrupts during light sleep.
func NewOrchestrator(radio Radio, pins Pins, wake dot.WakeMode, wakePin dot.Pin, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		radio:   radio,
		pins:    pins,
		wake:    wake,
		wakePin: wakePin,
		logger:  logger,
	}
}

// Sleep enters mode. A deep sleep saves the network session first, so a join is not needed after waking up.
// Light sleep retains RAM and never saves it.
func (o *Orchestrator) Sleep(ctx context.Context, mode SleepMode) error {
	deep := mode == Deep
	if deep {
		o.logger.Infof("saving network session to NVM")
		if err := o.radio.SaveNetworkSession(ctx); err != nil {
			o.logger.Errorf("failed to save network session: %v", err)
		}
	}

	switch o.wake {
	case dot.RTCAlarm:
		return o.sleepRTCOnly(ctx, deep)
	case dot.Interrupt:
		return o.sleepInterruptOnly(ctx, deep)
	default:
		return o.sleepRTCOrInterrupt(ctx, deep)
	}
}

func (o *Orchestrator) sleepRTCOnly(ctx context.Context, deep bool) error {
	interval := SleepDuration(o.radio.NextTxDelay())
	o.logger.Infof("%ssleeping %ds", deepPrefix(deep), int(interval.Seconds()))
	o.logResume(deep)
	return o.enter(ctx, interval, dot.RTCAlarm, deep)
}

func (o *Orchestrator) sleepInterruptOnly(ctx context.Context, deep bool) error {
	o.configureWakePin(deep)
	o.logger.Infof("%ssleeping until interrupt on %s pin", deepPrefix(deep), o.wakePinName(deep))
	o.logResume(deep)
	// not waking on the RTC alarm, the interval is ignored.
	return o.enter(ctx, 0, dot.Interrupt, deep)
}

func (o *Orchestrator) sleepRTCOrInterrupt(ctx context.Context, deep bool) error {
	interval := SleepDuration(o.radio.NextTxDelay())
	o.configureWakePin(deep)
	o.logger.Infof("%ssleeping %ds or until interrupt on %s pin", deepPrefix(deep), int(interval.Seconds()), o.wakePinName(deep))
	o.logResume(deep)
	return o.enter(ctx, interval, dot.RTCAlarmOrInterrupt, deep)
}

// WAKE is the only pin that can end a deep sleep and the radio configures it itself.
func (o *Orchestrator) configureWakePin(deep bool) {
	if deep {
		return
	}
	if err := o.radio.SetWakePin(o.wakePin); err != nil {
		o.logger.Errorf("failed to set wake pin to %s: %v", o.wakePin, err)
	}
}

func (o *Orchestrator) wakePinName(deep bool) dot.Pin {
	if deep {
		return dot.Wake
	}
	return o.radio.WakePin()
}

func (o *Orchestrator) logResume(deep bool) {
	if deep {
		o.logger.Infof("application will execute from beginning after waking up")
		return
	}
	o.logger.Infof("application will resume after waking up")
}

// enter wraps the radio sleep with the IO save and restore for light sleep.
// Restore runs even when the sleep fails.
func (o *Orchestrator) enter(ctx context.Context, interval time.Duration, wake dot.WakeMode, deep bool) error {
	if deep {
		return o.radio.Sleep(ctx, interval, wake, true)
	}

	if err := o.pins.Save(ctx); err != nil {
		o.logger.Warnf("failed to save IO state: %v", err)
	}
	if err := o.pins.ApplyLowPower(ctx, LowPowerProfile(o.radio.WakePin(), wake)); err != nil {
		o.logger.Warnf("failed to configure IOs for low power: %v", err)
	}

	sleepErr := o.radio.Sleep(ctx, interval, wake, false)

	if err := o.pins.Restore(ctx); err != nil {
		o.logger.Warnf("failed to restore IO state: %v", err)
	}
	return sleepErr
}

func deepPrefix(deep bool) string {
	if deep {
		return "deep"
	}
	return ""
}
