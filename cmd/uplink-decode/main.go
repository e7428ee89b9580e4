// Package main decodes uplinks captured from the air with the configured session keys.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"

	"github.com/viam-modules/lorawan-enddevice/codec"
	"github.com/viam-modules/lorawan-enddevice/config"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

var errUsage = errors.New("usage: uplink-decode [-fcnt N] <hex PHYPayload> [more payloads]")

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("uplink-decode"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("uplink-decode", flag.ContinueOnError)
	// only the low 16 bits of the frame counter are on the air.
	fCnt := fs.Uint("fcnt", 0, "lowest 32 bit frame counter of the first payload")
	if len(args) > 0 {
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sess, err := cfg.Session()
	if err != nil {
		return err
	}

	expected := uint32(*fCnt)
	for _, arg := range fs.Args() {
		full, err := decode(arg, sess, cfg.DecoderPath, expected, logger)
		if err != nil {
			logger.Errorf("failed to decode %s: %v", arg, err)
			continue
		}
		// payloads are given in the order they were sent.
		expected = full
	}
	return nil
}

// decode logs the readings in one PHYPayload and returns its full frame counter.
func decode(arg string, sess config.Session, decoderPath string, expected uint32, logger logging.Logger) (uint32, error) {
	phy, err := hex.DecodeString(arg)
	if err != nil {
		return 0, err
	}
	uplink, err := codec.ParseUplink(phy)
	if err != nil {
		return 0, err
	}
	if uplink.DevAddr != sess.Address {
		logger.Warnf("uplink is from %s, not %s", uplink.DevAddr, sess.Address)
	}
	full := codec.FullFCnt(uplink.FCnt, expected)
	payload, err := codec.DecryptUplinkFCnt(uplink, full, sess.NwkSKey, sess.DataSKey)
	if err != nil {
		return 0, err
	}
	readings, err := codec.DecodeFile(uplink.FPort, decoderPath, payload)
	if err != nil {
		return 0, err
	}
	logger.Infof("fcnt %d port %d confirmed %t payload %X: %v", full, uplink.FPort, uplink.Confirmed(), payload, readings)
	return full, nil
}
