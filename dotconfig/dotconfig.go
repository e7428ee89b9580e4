// Package dotconfig brings the radio configuration in line with the desired settings.
// Fields are only written when they differ from the radio, to spare non-volatile writes.
package dotconfig

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/viam-modules/lorawan-enddevice/config"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/logging"
)

// Network holds the settings shared by the OTA and manual join modes.
type Network struct {
	SubBand uint8
	Public  bool
	Ack     uint8
}

// PeerToPeer holds the radio settings of peer to peer mode.
type PeerToPeer struct {
	TxFrequency uint32
	TxDataRate  uint8
	TxPower     uint8
}

// syncer writes fields that differ and collects the failures.
// A failed write is logged and does not stop the remaining fields.
type syncer struct {
	logger logging.Logger
	writes int
	errs   []error
}

func syncField[T comparable](s *syncer, field string, current, desired T, format func(T) string, set func(T) error) {
	if current == desired {
		return
	}
	s.logger.Infof("changing %s from %s to %s", field, format(current), format(desired))
	s.writes++
	if err := set(desired); err != nil {
		s.logger.Errorf("failed to set %s to %s [%s]", field, format(desired), statusString(err))
		s.errs = append(s.errs, fmt.Errorf("failed to set %s: %w", field, err))
	}
}

func (s *syncer) result() (int, error) {
	return s.writes, errors.Join(s.errs...)
}

func (s *syncer) network(d dot.Settings, n Network) {
	syncField(s, "frequency sub band", d.FrequencySubBand(), n.SubBand, formatUint, d.SetFrequencySubBand)
	syncField(s, "public network", d.PublicNetwork(), n.Public, onOff, d.SetPublicNetwork)
	syncField(s, "acks", d.AckAttempts(), n.Ack, formatUint, d.SetAckAttempts)
}

func (s *syncer) session(d dot.Settings, addr types.DevAddr, nwkSKey, dataSKey types.AES128Key) {
	syncField(s, "network address", d.NetworkAddress(), addr, quotedHex, d.SetNetworkAddress)
	syncField(s, "network session key", d.NetworkSessionKey(), nwkSKey, quotedHex, d.SetNetworkSessionKey)
	syncField(s, "data session key", d.DataSessionKey(), dataSKey, quotedHex, d.SetDataSessionKey)
}

// UpdateOTAConfigNamePhrase syncs the OTA network name and passphrase.
// It returns the number of writes issued and the joined write failures.
func UpdateOTAConfigNamePhrase(logger logging.Logger, d dot.Settings, name, passphrase string, n Network) (int, error) {
	s := &syncer{logger: logger}
	syncField(s, "network name", d.NetworkName(), name, quoted, d.SetNetworkName)
	syncField(s, "network passphrase", d.NetworkPassphrase(), passphrase, quoted, d.SetNetworkPassphrase)
	s.network(d, n)
	return s.result()
}

// UpdateOTAConfigIDKey syncs the OTA network ID and key.
func UpdateOTAConfigIDKey(logger logging.Logger, d dot.Settings, id types.EUI64, key types.AES128Key, n Network) (int, error) {
	s := &syncer{logger: logger}
	syncField(s, "network ID", d.NetworkID(), id, quotedHex, d.SetNetworkID)
	syncField(s, "network KEY", d.NetworkKey(), key, quotedHex, d.SetNetworkKey)
	s.network(d, n)
	return s.result()
}

// UpdateManualConfig syncs a provisioned session.
// There is no join transaction in MANUAL mode, the same session has to be provisioned on the network server.
func UpdateManualConfig(logger logging.Logger, d dot.Settings, sess config.Session, n Network) (int, error) {
	s := &syncer{logger: logger}
	s.session(d, sess.Address, sess.NwkSKey, sess.DataSKey)
	s.network(d, n)
	return s.result()
}

// UpdatePeerToPeerConfig syncs a peer to peer session and radio settings.
func UpdatePeerToPeerConfig(logger logging.Logger, d dot.Settings, sess config.Session, p PeerToPeer) (int, error) {
	s := &syncer{logger: logger}
	s.session(d, sess.Address, sess.NwkSKey, sess.DataSKey)
	syncField(s, "TX frequency", d.TxFrequency(), p.TxFrequency, formatUint, d.SetTxFrequency)
	syncField(s, "TX datarate", d.TxDataRate(), p.TxDataRate, formatUint, d.SetTxDataRate)
	syncField(s, "TX power", d.TxPower(), p.TxPower, formatUint, d.SetTxPower)
	return s.result()
}

// UpdateLinkCheckConfig syncs the link check count and threshold.
func UpdateLinkCheckConfig(logger logging.Logger, d dot.Settings, count, threshold uint8) (int, error) {
	s := &syncer{logger: logger}
	syncField(s, "link check count", d.LinkCheckCount(), count, formatUint, d.SetLinkCheckCount)
	syncField(s, "link check threshold", d.LinkCheckThreshold(), threshold, formatUint, d.SetLinkCheckThreshold)
	return s.result()
}

// Configure is the boot configuration step.
// On a cold boot the radio is reset and the desired settings are written, saved and displayed.
// After deep sleep only the saved network session is restored, unless that fails and the cold boot runs instead.
func Configure(ctx context.Context, logger logging.Logger, d dot.Dot, cfg config.Config) error {
	if d.StandbyFlag() {
		// session info is otherwise lost in deep sleep.
		logger.Infof("restoring network session from NVM")
		err := d.RestoreNetworkSession(ctx)
		if err == nil {
			return nil
		}
		logger.Errorf("failed to restore network session, configuring from scratch: %v", err)
	}

	logger.Infof("library version: %s", d.LibraryID())

	// start from a well-known state
	logger.Infof("defaulting Dot configuration")
	d.ResetConfig()
	d.ResetNetworkSession()

	if d.JoinMode() != cfg.JoinMode {
		logger.Infof("changing network join mode to %s", cfg.JoinMode)
		if err := d.SetJoinMode(cfg.JoinMode); err != nil {
			logger.Errorf("failed to set network join mode to %s [%s]", cfg.JoinMode, statusString(err))
		}
	}

	if _, err := update(logger, d, cfg); err != nil {
		logger.Warnf("configuration partially applied: %v", err)
	}

	if cfg.LinkCheckCount > 0 {
		if _, err := UpdateLinkCheckConfig(logger, d, cfg.LinkCheckCount, cfg.LinkCheckThreshold); err != nil {
			logger.Warnf("link check configuration partially applied: %v", err)
		}
	}

	logger.Infof("saving configuration")
	if err := d.SaveConfig(ctx); err != nil {
		logger.Errorf("failed to save configuration: %v", err)
	}

	Display(logger, d)
	return nil
}

func update(logger logging.Logger, d dot.Settings, cfg config.Config) (int, error) {
	n := Network{SubBand: cfg.FrequencySubBand, Public: cfg.PublicNetwork, Ack: cfg.Ack}
	switch cfg.JoinMode {
	case dot.OTA, dot.AutoOTA:
		if cfg.UsesNamePhrase() {
			return UpdateOTAConfigNamePhrase(logger, d, cfg.NetworkName, cfg.NetworkPassphrase, n)
		}
		creds, err := cfg.NetworkCredentials()
		if err != nil {
			return 0, err
		}
		return UpdateOTAConfigIDKey(logger, d, creds.ID, creds.Key, n)
	case dot.PeerToPeer:
		sess, err := cfg.Session()
		if err != nil {
			return 0, err
		}
		return UpdatePeerToPeerConfig(logger, d, sess, PeerToPeer{
			TxFrequency: cfg.TxFrequency,
			TxDataRate:  cfg.TxDataRate,
			TxPower:     cfg.TxPower,
		})
	default:
		sess, err := cfg.Session()
		if err != nil {
			return 0, err
		}
		return UpdateManualConfig(logger, d, sess, n)
	}
}

func statusString(err error) string {
	s := dot.StatusOf(err)
	return fmt.Sprintf("%d:%s", int(s), s)
}

func formatUint[T ~uint8 | ~uint32](v T) string {
	return fmt.Sprintf("%d", v)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func quoted(s string) string {
	return fmt.Sprintf("%q", s)
}

type byteArray interface {
	types.DevAddr | types.AES128Key | types.EUI64
}

func hexString[T byteArray](v T) string {
	return hexBytes(toSlice(v))
}

func quotedHex[T byteArray](v T) string {
	return fmt.Sprintf("%q", hexString(v))
}

func toSlice[T byteArray](v T) []byte {
	switch b := any(v).(type) {
	case types.DevAddr:
		return b[:]
	case types.AES128Key:
		return b[:]
	case types.EUI64:
		return b[:]
	default:
		return nil
	}
}

func hexBytes(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
