package dotsim

import (
	"context"
	"crypto/rand"
	"math"
	"time"

	"github.com/soypat/lora"
	"github.com/viam-modules/lorawan-enddevice/codec"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

const (
	// application port of the data uplinks.
	dataFPort = 1
	// LoRaWAN uses an 8 symbol preamble and the 4/5 coding rate.
	loraWANPreambleLength = 8

	usChannelBase    = 902300000
	usChannelStep    = 200000
	usChannelCount   = 64
	usSubBandSize    = 8
	euChannelBase    = 868100000
	euChannelStep    = 200000
	euDefaultChannel = 3
)

// network id the emulated network server hands out addresses from.
var netID = types.NetID{0x00, 0x00, 0x01}

// frequency ranges of the bands in Hz.
var bandLimits = map[regions.Region][2]uint32{
	regions.US: {902000000, 928000000},
	regions.EU: {863000000, 870000000},
}

func inBand(band regions.Region, hz uint32) bool {
	limits, ok := bandLimits[band]
	if !ok {
		return false
	}
	return hz >= limits[0] && hz <= limits[1]
}

// Joined reports whether the radio has a network session.
func (d *Dot) Joined() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.Joined
}

// NextTxDelay returns the time left before the duty cycle allows another transmission.
func (d *Dot) NextTxDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextTxDelay()
}

func (d *Dot) nextTxDelay() time.Duration {
	if wait := d.nextFree.Sub(d.now()); wait > 0 {
		return wait
	}
	return 0
}

// Join joins the network. Manual and peer-to-peer sessions are provisioned, so they join at once.
// Over the air modes transmit a join request and derive the session keys from the accept.
func (d *Dot) Join(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.JoinMode == dot.Manual || d.cfg.JoinMode == dot.PeerToPeer {
		d.sess.DevAddr = d.cfg.NetworkAddress
		d.sess.NwkSKey = d.cfg.NetworkSessionKey
		d.sess.AppSKey = d.cfg.DataSessionKey
		d.sess.Joined = true
		return nil
	}

	if d.nextTxDelay() > 0 {
		return dot.NewStatusError("join", dot.NoFreeChan)
	}

	appKey, joinEUI := d.otaCredentials()
	d.sess.DevNonce++
	jr := codec.JoinRequest{
		JoinEUI:  joinEUI,
		DevEUI:   d.deviceEUI,
		DevNonce: types.DevNonce{byte(d.sess.DevNonce >> 8), byte(d.sess.DevNonce)},
	}
	payload, err := codec.BuildJoinRequest(appKey, jr)
	if err != nil {
		d.logger.Errorf("failed to build join request: %v", err)
		return dot.NewStatusError("join", dot.Error)
	}
	if err := d.transmit(ctx, payload, d.channelFrequency()); err != nil {
		d.logger.Errorf("failed to transmit join request: %v", err)
		return dot.NewStatusError("join", dot.TxError)
	}

	if d.failJoins > 0 {
		d.failJoins--
		return dot.NewStatusError("join", dot.JoinError)
	}

	sess, err := d.accept(ctx, appKey, payload)
	if err != nil {
		d.logger.Errorf("join accept failed: %v", err)
		return dot.NewStatusError("join", dot.JoinError)
	}
	sess.DevNonce = d.sess.DevNonce
	d.sess = sess
	d.logger.Debugf("joined with dev addr %X", sess.DevAddr[:])
	return nil
}

// otaCredentials returns the app key and join EUI, derived from the name and passphrase when a name is set.
func (d *Dot) otaCredentials() (types.AES128Key, types.EUI64) {
	if d.cfg.NetworkName != "" {
		return deriveKey(d.cfg.NetworkPassphrase), deriveEUI(d.cfg.NetworkName)
	}
	return d.cfg.NetworkKey, d.cfg.NetworkID
}

// accept plays the network server side of the join: it checks the request and derives a session.
func (d *Dot) accept(ctx context.Context, appKey types.AES128Key, payload []byte) (session, error) {
	jr, err := codec.ParseJoinRequest(appKey, payload)
	if err != nil {
		return session{}, err
	}

	random := make([]byte, 7)
	if _, err := rand.Read(random); err != nil {
		return session{}, err
	}
	var (
		joinNonce types.JoinNonce
		addr      types.DevAddr
	)
	copy(joinNonce[:], random[:3])
	copy(addr[:], random[3:])
	// first 7 MSB of devAddr must match the network ID
	addr[0] = netID[2]<<1 | addr[0]&0x01

	keys, err := codec.DeriveSessionKeys(ctx, appKey, jr, joinNonce, netID)
	if err != nil {
		return session{}, err
	}
	return session{
		DevAddr: addr,
		NwkSKey: keys.NwkSKey,
		AppSKey: keys.AppSKey,
		Joined:  true,
	}, nil
}

// Send transmits one uplink on FPort 1. It is confirmed when ack attempts are configured.
func (d *Dot) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sess.Joined {
		return dot.NewStatusError("send", dot.NotJoined)
	}
	rate, err := d.band.DataRate(d.cfg.TxDataRate)
	if err != nil {
		return dot.NewStatusError("send", dot.InvalidParam)
	}
	if len(payload) > rate.MaxPayload {
		return dot.NewStatusError("send", dot.MaxPayloadExceeded)
	}
	if d.nextTxDelay() > 0 {
		return dot.NewStatusError("send", dot.NoFreeChan)
	}

	phy, err := codec.BuildUplink(codec.UplinkFrame{
		Confirmed: d.cfg.AckAttempts > 0 && d.cfg.JoinMode != dot.PeerToPeer,
		DevAddr:   d.sess.DevAddr,
		FCnt:      d.sess.FCntUp,
		FPort:     dataFPort,
		Payload:   payload,
		NwkSKey:   d.sess.NwkSKey,
		AppSKey:   d.sess.AppSKey,
	})
	if err != nil {
		d.logger.Errorf("failed to build uplink: %v", err)
		return dot.NewStatusError("send", dot.Error)
	}

	freq := d.channelFrequency()
	if d.cfg.JoinMode == dot.PeerToPeer {
		freq = d.cfg.TxFrequency
	}
	if err := d.transmit(ctx, phy, freq); err != nil {
		d.logger.Errorf("failed to transmit uplink: %v", err)
		return dot.NewStatusError("send", dot.TxError)
	}
	d.sess.FCntUp++
	return nil
}

// transmit hands the frame to the transmitter and starts the duty cycle off time.
func (d *Dot) transmit(ctx context.Context, phy []byte, freq uint32) error {
	rate, err := d.band.DataRate(d.cfg.TxDataRate)
	if err != nil {
		return err
	}
	airtime := timeOnAir(rate, freq, len(phy))
	frame := Frame{
		PHYPayload: phy,
		Frequency:  freq,
		DataRate:   d.band.DataRateString(d.cfg.TxDataRate),
		TxPower:    d.cfg.TxPower,
		Airtime:    airtime,
	}
	if err := d.tx.Transmit(ctx, frame); err != nil {
		return err
	}
	d.nextFree = d.now().Add(offTime(d.band, airtime))
	return nil
}

// timeOnAir computes the airtime of a LoRaWAN frame at the datarate.
func timeOnAir(rate regions.DataRate, freq uint32, n int) time.Duration {
	cfg := lora.Config{
		Bandwidth:       rate.Bandwidth,
		Frequency:       lora.Frequency(freq),
		PreambleLength:  loraWANPreambleLength,
		HeaderType:      lora.HeaderExplicit,
		CodingRate:      lora.CR4_5,
		SpreadingFactor: rate.SpreadFactor,
		CRC:             true,
		// low data rate optimization is mandated for SF11 and SF12 at 125kHz.
		LDRO: rate.Bandwidth == lora.BW125k && rate.SpreadFactor >= lora.SF11,
	}
	return cfg.TimeOnAir(n)
}

// offTime is how long the band keeps the radio silent after a transmission of airtime.
func offTime(band regions.Region, airtime time.Duration) time.Duration {
	dc := band.Info().DutyCycle
	if dc <= 0 {
		return 0
	}
	return time.Duration(float64(airtime) * (math.Round(1/dc) - 1))
}

// channelFrequency picks the uplink channel, rotating with the frame counter inside the sub band.
func (d *Dot) channelFrequency() uint32 {
	n := d.sess.FCntUp + uint32(d.sess.DevNonce)
	if d.band == regions.EU {
		return euChannelBase + euChannelStep*(n%euDefaultChannel)
	}
	if d.cfg.SubBand == 0 {
		return usChannelBase + usChannelStep*(n%usChannelCount)
	}
	first := uint32(d.cfg.SubBand-1) * usSubBandSize
	return usChannelBase + usChannelStep*(first+n%usSubBandSize)
}
