// Package main registers this end-device and its session with ChirpStack.
package main

import (
	"context"
	"os"
	"time"

	"github.com/viam-modules/lorawan-enddevice/config"
	"github.com/viam-modules/lorawan-enddevice/dotsim"
	"github.com/viam-modules/lorawan-enddevice/provision"
	"go.viam.com/rdk/logging"
)

// nameEnv overrides the device name, which defaults to the hostname.
const nameEnv = "XDOT_DEVICE_NAME"

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := logging.NewLogger("provision")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	name := os.Getenv(nameEnv)
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			return err
		}
	}

	d, err := provision.DeviceFromConfig(cfg, dotsim.HostEUI(), name)
	if err != nil {
		return err
	}

	c, err := provision.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error(err)
		}
	}()

	if err := c.Provision(ctx, d); err != nil {
		return err
	}
	logger.Infof("provisioned %s as %s", d.Name, d.DevEUI)
	return nil
}
