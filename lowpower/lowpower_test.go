package lowpower

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/testutils"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestSleepDuration(t *testing.T) {
	tests := []struct {
		name     string
		nextTx   time.Duration
		expected time.Duration
	}{
		{
			name:     "no delay",
			nextTx:   0,
			expected: 10 * time.Second,
		},
		{
			name:     "short delay",
			nextTx:   3500 * time.Millisecond,
			expected: 10 * time.Second,
		},
		{
			name:     "just under ten seconds",
			nextTx:   9999 * time.Millisecond,
			expected: 10 * time.Second,
		},
		{
			name:     "exactly ten seconds",
			nextTx:   10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "long delay is truncated to seconds",
			nextTx:   114700 * time.Millisecond,
			expected: 114 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test.That(t, SleepDuration(tt.nextTx), test.ShouldEqual, tt.expected)
		})
	}
}

func TestParseSleepMode(t *testing.T) {
	m, err := ParseSleepMode("sleep")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, Light)

	m, err = ParseSleepMode("DeepSleep")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, Deep)

	_, err = ParseSleepMode("hibernate")
	test.That(t, err, test.ShouldNotBeNil)

	var sm SleepMode
	test.That(t, sm.UnmarshalText([]byte("light")), test.ShouldBeNil)
	test.That(t, sm, test.ShouldEqual, Light)
	test.That(t, Light.String(), test.ShouldEqual, "sleep")
}

func TestLowPowerProfile(t *testing.T) {
	always := []dot.Pin{
		dot.UART1TX, dot.UART1RTS, dot.UART1CTS,
		dot.I2CSDA, dot.I2CSCL,
		dot.SPIMOSI, dot.SPIMISO, dot.SPISCK, dot.SPINSS,
	}

	t.Run("interrupt wake leaves the wake pin alone", func(t *testing.T) {
		profile := LowPowerProfile(dot.GPIO1, dot.RTCAlarmOrInterrupt)
		test.That(t, profile, test.ShouldNotContain, dot.GPIO1)
		test.That(t, profile, test.ShouldContain, dot.Wake)
		test.That(t, profile, test.ShouldContain, dot.UART1RX)
		test.That(t, len(profile), test.ShouldEqual, len(always)+len(dot.WakePins)-1)
		for _, p := range always {
			test.That(t, profile, test.ShouldContain, p)
		}
	})

	t.Run("rtc wake configures every pin", func(t *testing.T) {
		profile := LowPowerProfile(dot.GPIO1, dot.RTCAlarm)
		test.That(t, profile, test.ShouldContain, dot.GPIO1)
		test.That(t, len(profile), test.ShouldEqual, len(always)+len(dot.WakePins))
	})
}

func TestSleep(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("deep sleep persists the session first", func(t *testing.T) {
		fd := testutils.NewFakeDot()
		pins := testutils.NewFakePins(fd)
		o := NewOrchestrator(fd, pins, dot.RTCAlarmOrInterrupt, dot.Wake, logger)

		err := o.Sleep(ctx, Deep)
		test.That(t, errors.Is(err, dot.ErrDeepSleepReset), test.ShouldBeTrue)
		test.That(t, fd.Calls, test.ShouldResemble, []string{"save network session", "sleep"})
		test.That(t, fd.Sleeps, test.ShouldResemble, []testutils.SleepCall{
			{Interval: 10 * time.Second, Mode: dot.RTCAlarmOrInterrupt, Deep: true},
		})
		// IOs float in deep sleep.
		test.That(t, pins.Applied, test.ShouldBeEmpty)
	})

	t.Run("light sleep never persists the session", func(t *testing.T) {
		for _, wake := range []dot.WakeMode{dot.RTCAlarm, dot.Interrupt, dot.RTCAlarmOrInterrupt} {
			fd := testutils.NewFakeDot()
			o := NewOrchestrator(fd, testutils.NewFakePins(fd), wake, dot.Wake, logger)
			test.That(t, o.Sleep(ctx, Light), test.ShouldBeNil)
			test.That(t, fd.Calls, test.ShouldNotContain, "save network session")
		}
	})

	t.Run("light sleep wraps the radio sleep with io save and restore", func(t *testing.T) {
		fd := testutils.NewFakeDot()
		fd.NextTx = 42 * time.Second
		pins := testutils.NewFakePins(fd)
		o := NewOrchestrator(fd, pins, dot.RTCAlarmOrInterrupt, dot.GPIO0, logger)

		test.That(t, o.Sleep(ctx, Light), test.ShouldBeNil)
		test.That(t, fd.Calls, test.ShouldResemble, []string{
			"set wake pin", "save io", "apply low power", "sleep", "restore io",
		})
		test.That(t, fd.Pin, test.ShouldEqual, dot.GPIO0)
		test.That(t, fd.Sleeps[0].Interval, test.ShouldEqual, 42*time.Second)
		test.That(t, pins.Applied[0], test.ShouldNotContain, dot.GPIO0)
	})

	t.Run("interrupt only sleep ignores the interval", func(t *testing.T) {
		fd := testutils.NewFakeDot()
		fd.NextTx = 42 * time.Second
		o := NewOrchestrator(fd, testutils.NewFakePins(fd), dot.Interrupt, dot.Wake, logger)

		test.That(t, o.Sleep(ctx, Light), test.ShouldBeNil)
		test.That(t, fd.Sleeps[0], test.ShouldResemble, testutils.SleepCall{Mode: dot.Interrupt})
	})

	t.Run("rtc only sleep does not touch the wake pin", func(t *testing.T) {
		fd := testutils.NewFakeDot()
		pins := testutils.NewFakePins(fd)
		o := NewOrchestrator(fd, pins, dot.RTCAlarm, dot.GPIO3, logger)

		test.That(t, o.Sleep(ctx, Light), test.ShouldBeNil)
		test.That(t, fd.Calls, test.ShouldNotContain, "set wake pin")
		test.That(t, pins.Applied[0], test.ShouldContain, dot.Wake)
	})

	t.Run("io is restored when the sleep fails", func(t *testing.T) {
		fd := testutils.NewFakeDot()
		fd.SleepErr = dot.NewStatusError("sleep", dot.NotIdle)
		o := NewOrchestrator(fd, testutils.NewFakePins(fd), dot.RTCAlarm, dot.Wake, logger)

		err := o.Sleep(ctx, Light)
		test.That(t, dot.StatusOf(err), test.ShouldEqual, dot.NotIdle)
		test.That(t, fd.Calls[len(fd.Calls)-1], test.ShouldEqual, "restore io")
	})
}
