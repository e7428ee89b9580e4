package dotconfig

import (
	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.viam.com/rdk/logging"
)

// Display logs the radio configuration and library version.
func Display(logger logging.Logger, d dot.Settings) {
	band := d.FrequencyBand()
	logger.Infof("=====================")
	logger.Infof("general configuration")
	logger.Infof("=====================")
	logger.Infof("version ------------------ %s", d.LibraryID())
	logger.Infof("device ID/EUI ------------ %s", hexString(d.DeviceID()))
	logger.Infof("frequency band ----------- %s", band)
	if band != regions.EU {
		logger.Infof("frequency sub band ------- %d", d.FrequencySubBand())
	}
	logger.Infof("public network ----------- %s", onOff(d.PublicNetwork()))

	logger.Infof("=========================")
	logger.Infof("credentials configuration")
	logger.Infof("=========================")
	logger.Infof("device class ------------- %s", d.Class())
	logger.Infof("network join mode -------- %s", d.JoinMode())
	switch d.JoinMode() {
	case dot.Manual, dot.PeerToPeer:
		logger.Infof("network address ---------- %s", hexString(d.NetworkAddress()))
		logger.Infof("network session key ------ %s", hexString(d.NetworkSessionKey()))
		logger.Infof("data session key --------- %s", hexString(d.DataSessionKey()))
	default:
		logger.Infof("network name ------------- %s", d.NetworkName())
		logger.Infof("network phrase ----------- %s", d.NetworkPassphrase())
		logger.Infof("network EUI -------------- %s", hexString(d.NetworkID()))
		logger.Infof("network KEY -------------- %s", hexString(d.NetworkKey()))
	}

	logger.Infof("========================")
	logger.Infof("communication parameters")
	logger.Infof("========================")
	if d.JoinMode() == dot.PeerToPeer {
		logger.Infof("TX frequency ------------- %d", d.TxFrequency())
	} else {
		logger.Infof("acks --------------------- %s, %d attempts", onOff(d.AckAttempts() > 0), d.AckAttempts())
	}
	logger.Infof("TX datarate -------------- %s", band.DataRateString(d.TxDataRate()))
	logger.Infof("TX power ----------------- %d dBm", d.TxPower())
	logger.Infof("antenna gain ------------- %d dBm", d.AntennaGain())
}
