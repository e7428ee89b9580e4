// Package app runs the end-device: configure, join, then sample, send and sleep forever.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/viam-modules/lorawan-enddevice/config"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/dotconfig"
	"github.com/viam-modules/lorawan-enddevice/join"
	"github.com/viam-modules/lorawan-enddevice/light"
	"github.com/viam-modules/lorawan-enddevice/lowpower"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// sensorSettle is the time the light sensor needs before a read.
const sensorSettle = time.Second

// App owns the radio and sensor handles for the life of the process.
type App struct {
	dot     dot.Dot
	sensor  light.Sensor
	sleeper *lowpower.Orchestrator
	cfg     config.Config
	wait    join.Waiter
	logger  logging.Logger
}

// New returns an app. pins handles the external IOs around a light sleep.
func New(d dot.Dot, sensor light.Sensor, pins lowpower.Pins, cfg config.Config, logger logging.Logger) *App {
	return &App{
		dot:     d,
		sensor:  sensor,
		sleeper: lowpower.NewOrchestrator(d, pins, cfg.WakeMode, cfg.WakePin, logger),
		cfg:     cfg,
		wait:    utils.SelectContextOrWait,
		logger:  logger,
	}
}

// Run boots and cycles until ctx is done. Waking from deep sleep starts again from the boot step.
func (a *App) Run(ctx context.Context) error {
	for {
		if err := a.Boot(ctx); err != nil {
			return err
		}
		err := a.loop(ctx)
		if errors.Is(err, dot.ErrDeepSleepReset) {
			a.logger.Infof("woke from deep sleep, starting from the beginning")
			continue
		}
		return err
	}
}

// Boot configures the radio and joins the network.
// The join is skipped when a session restored from NVM is already active.
func (a *App) Boot(ctx context.Context) error {
	if err := dotconfig.Configure(ctx, a.logger, a.dot, a.cfg); err != nil {
		a.logger.Errorf("configuration failed: %v", err)
	}
	if a.dot.Joined() {
		a.logger.Debugf("network session active, skipping join")
		return nil
	}
	return join.NewSequencer(a.dot, a.wait, a.logger).Run(ctx)
}

func (a *App) loop(ctx context.Context) error {
	for {
		if err := a.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Cycle reads the light sensor, sends the reading and sleeps.
// A failed read still sends the zero reading, and a failed send does not skip the sleep.
// Only context errors and a deep sleep reset are returned.
func (a *App) Cycle(ctx context.Context) error {
	// wait for the light sensor to be ready.
	if !a.wait(ctx, sensorSettle) {
		return ctx.Err()
	}

	value, err := light.Read(ctx, a.logger, a.sensor)
	if err != nil {
		a.logger.Errorf("%v", err)
	}
	//nolint:errcheck
	a.SendData(ctx, light.Payload(value))

	err = a.sleeper.Sleep(ctx, a.cfg.SleepMode)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dot.ErrDeepSleepReset):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		a.logger.Errorf("failed to sleep: %v", err)
		return nil
	}
}

// SendData transmits data once, logging the outcome. There is no retry.
func (a *App) SendData(ctx context.Context, data []byte) error {
	dest := "gateway"
	if a.dot.JoinMode() == dot.PeerToPeer {
		dest = "peer"
	}
	if err := a.dot.Send(ctx, data); err != nil {
		status := dot.StatusOf(err)
		a.logger.Errorf("failed to send data to %s [%d][%s]", dest, int(status), status)
		return err
	}
	a.logger.Infof("successfully sent data to %s", dest)
	return nil
}
