// package main runs the xDot ambient light sensor on the emulated radio.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/viam-modules/lorawan-enddevice/app"
	"github.com/viam-modules/lorawan-enddevice/config"
	"github.com/viam-modules/lorawan-enddevice/dotsim"
	"github.com/viam-modules/lorawan-enddevice/gpio"
	"github.com/viam-modules/lorawan-enddevice/lowpower"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("xdot-light"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown log level %q, keeping %s", cfg.LogLevel, logger.GetLevel())
	} else {
		logger.SetLevel(level)
	}

	radio, err := dotsim.Open(ctx, dotsim.Options{Band: cfg.Region(), NVMPath: cfg.NVMPath}, logger)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer radio.Close()

	pins, err := newPins(cfg)
	if err != nil {
		return err
	}

	// SIGUSR1 is the WAKE button.
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	defer signal.Stop(wake)
	utils.PanicCapturingGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				logger.Debug("wake interrupt")
				radio.Interrupt()
			}
		}
	})

	err = app.New(radio, dotsim.NewLightSensor(), pins, cfg, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newPins(cfg config.Config) (lowpower.Pins, error) {
	mapping, err := gpio.ParseMapping(cfg.GPIO)
	if err != nil {
		return nil, err
	}
	if cfg.GPIODriver == config.DriverPinctrl || len(mapping) == 0 {
		// with nothing mapped pinctrl never runs.
		return gpio.NewPinctrl(mapping), nil
	}
	return gpio.NewPeriph(mapping)
}
