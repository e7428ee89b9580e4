package gpio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestParsePinctrlState(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []string
		err      error
	}{
		{
			name:     "output driven high",
			line:     "17: op dh pu | hi // GPIO17 = output\n",
			expected: []string{"op", "dh", "pu"},
		},
		{
			name:     "input",
			line:     "27: ip    pd | lo // GPIO27 = input",
			expected: []string{"ip", "pd"},
		},
		{
			name: "missing separator",
			line: "27 ip pd",
			err:  errPinctrlOutput,
		},
		{
			name: "no fields",
			line: "27: | lo",
			err:  errPinctrlOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := parsePinctrlState(tt.line)
			if tt.err != nil {
				test.That(t, errors.Is(err, tt.err), test.ShouldBeTrue)
				return
			}
			test.That(t, err, test.ShouldBeNil)
			test.That(t, state, test.ShouldResemble, tt.expected)
		})
	}
}

func TestPinctrl(t *testing.T) {
	ctx := context.Background()
	var calls []string
	p := NewPinctrl(map[dot.Pin]string{dot.Wake: "17", dot.I2CSDA: "2"})
	p.run = func(ctx context.Context, args ...string) ([]byte, error) {
		calls = append(calls, strings.Join(args, " "))
		if args[0] == "get" {
			return []byte(args[1] + ": op dl pn | lo // GPIO = output"), nil
		}
		return nil, nil
	}

	test.That(t, p.Restore(ctx), test.ShouldBeError, errNothingToRestore)

	test.That(t, p.Save(ctx), test.ShouldBeNil)
	test.That(t, calls, test.ShouldContain, "get 17")
	test.That(t, calls, test.ShouldContain, "get 2")

	calls = nil
	// SPI_SCK is not wired on this host.
	test.That(t, p.ApplyLowPower(ctx, []dot.Pin{dot.I2CSDA, dot.SPISCK}), test.ShouldBeNil)
	test.That(t, calls, test.ShouldResemble, []string{"set 2 ip pn"})

	calls = nil
	test.That(t, p.Restore(ctx), test.ShouldBeNil)
	test.That(t, len(calls), test.ShouldEqual, 2)
	test.That(t, calls, test.ShouldContain, "set 17 op dl pn")
	test.That(t, calls, test.ShouldContain, "set 2 op dl pn")
}

func TestPinctrlRunFailure(t *testing.T) {
	p := NewPinctrl(map[dot.Pin]string{dot.GPIO0: "5"})
	p.run = func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, errors.New("pinctrl: not found")
	}
	err := p.Save(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not found")
}

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping(map[string]string{"wake": "17", "gpio0": "GPIO5"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldResemble, map[dot.Pin]string{dot.Wake: "17", dot.GPIO0: "GPIO5"})

	_, err = ParseMapping(map[string]string{"PA0": "17"})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ParseMapping(map[string]string{"wake": ""})
	test.That(t, errors.Is(err, errPinNotMapped), test.ShouldBeTrue)
}

func TestPeriph(t *testing.T) {
	ctx := context.Background()
	wake := &gpiotest.Pin{N: "GPIO17", Num: 17, P: gpio.PullUp, L: gpio.High}
	sda := &gpiotest.Pin{N: "GPIO2", Num: 2, P: gpio.PullDown}
	p := newPeriphFromPins(map[dot.Pin]gpio.PinIO{dot.Wake: wake, dot.I2CSDA: sda})

	test.That(t, p.Restore(ctx), test.ShouldBeError, errNothingToRestore)
	test.That(t, p.Save(ctx), test.ShouldBeNil)

	// wake stays as is, it can end the sleep.
	test.That(t, p.ApplyLowPower(ctx, []dot.Pin{dot.I2CSDA, dot.SPIMOSI}), test.ShouldBeNil)
	test.That(t, sda.Pull(), test.ShouldEqual, gpio.Float)
	test.That(t, wake.Pull(), test.ShouldEqual, gpio.PullUp)

	test.That(t, p.Restore(ctx), test.ShouldBeNil)
	test.That(t, sda.Pull(), test.ShouldEqual, gpio.PullDown)
	test.That(t, wake.Pull(), test.ShouldEqual, gpio.PullUp)
}
