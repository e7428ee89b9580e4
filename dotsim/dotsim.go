// Package dotsim emulates the xDot radio on a host: settings, non-volatile memory, LoRaWAN framing and sleep.
package dotsim

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/logging"
)

const (
	libraryVersion     = "4.1.5-dotsim"
	deviceClass        = "A"
	defaultTxPower     = 11
	defaultAntennaGain = 3
	maxTxPower         = 30
	maxAckAttempts     = 8
)

var errNVMPathRequired = errors.New("non-volatile memory path is required")

// settings is the configuration the radio keeps in RAM and saves with SaveConfig.
type settings struct {
	JoinMode           dot.JoinMode    `json:"join_mode"`
	NetworkName        string          `json:"network_name"`
	NetworkPassphrase  string          `json:"network_passphrase"`
	NetworkID          types.EUI64     `json:"network_id"`
	NetworkKey         types.AES128Key `json:"network_key"`
	NetworkAddress     types.DevAddr   `json:"network_address"`
	NetworkSessionKey  types.AES128Key `json:"network_session_key"`
	DataSessionKey     types.AES128Key `json:"data_session_key"`
	SubBand            uint8           `json:"frequency_sub_band"`
	PublicNetwork      bool            `json:"public_network"`
	AckAttempts        uint8           `json:"ack_attempts"`
	TxFrequency        uint32          `json:"tx_frequency"`
	TxDataRate         uint8           `json:"tx_datarate"`
	TxPower            uint8           `json:"tx_power"`
	LinkCheckCount     uint8           `json:"link_check_count"`
	LinkCheckThreshold uint8           `json:"link_check_threshold"`
	WakePin            dot.Pin         `json:"wake_pin"`
	WakeMode           dot.WakeMode    `json:"wake_mode"`
}

func defaultSettings(band regions.Region) settings {
	return settings{
		JoinMode:      dot.OTA,
		PublicNetwork: true,
		TxFrequency:   band.Info().DefaultFrequency,
		TxPower:       defaultTxPower,
		WakePin:       dot.Wake,
		WakeMode:      dot.RTCAlarm,
	}
}

// session is the network session, lost on deep sleep unless saved.
// Manual sessions are rebuilt from the saved settings.
type session struct {
	DevAddr  types.DevAddr
	NwkSKey  types.AES128Key
	AppSKey  types.AES128Key
	FCntUp   uint32
	DevNonce uint16
	Joined   bool
}

// Options configures an emulated radio.
type Options struct {
	// Band is fixed by the hardware variant.
	Band regions.Region
	// DeviceEUI is the factory programmed id, derived from the host name when zero.
	DeviceEUI   types.EUI64
	NVMPath     string
	Transmitter Transmitter
	// FailJoins makes the first OTA joins fail with JOIN_ERROR.
	FailJoins int
}

// Dot is an emulated xDot implementing dot.Dot.
type Dot struct {
	band      regions.Region
	deviceEUI types.EUI64
	tx        Transmitter
	nvm       *nvm
	logger    logging.Logger
	now       func() time.Time
	interrupt chan struct{}

	mu        sync.Mutex
	cfg       settings
	sess      session
	standby   bool
	nextFree  time.Time
	failJoins int
}

var _ dot.Dot = (*Dot)(nil)

// Open powers up an emulated radio, loading the saved configuration from its non-volatile memory.
func Open(ctx context.Context, opts Options, logger logging.Logger) (*Dot, error) {
	if opts.NVMPath == "" {
		return nil, errNVMPathRequired
	}
	band := opts.Band
	if band == regions.Unspecified {
		band = regions.US
	}
	tx := opts.Transmitter
	if tx == nil {
		tx = NewLogTransmitter(logger)
	}
	eui := opts.DeviceEUI
	if eui == (types.EUI64{}) {
		eui = HostEUI()
	}

	mem, err := openNVM(ctx, opts.NVMPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open non-volatile memory: %w", err)
	}

	d := &Dot{
		band:      band,
		deviceEUI: eui,
		tx:        tx,
		nvm:       mem,
		logger:    logger,
		now:       time.Now,
		interrupt: make(chan struct{}, 1),
		failJoins: opts.FailJoins,
	}
	if err := d.boot(ctx); err != nil {
		//nolint:errcheck
		mem.close()
		return nil, err
	}
	return d, nil
}

// boot loads the saved configuration and the standby flag, as the radio does on reset.
func (d *Dot) boot(ctx context.Context) error {
	cfg, err := d.nvm.loadConfig(ctx)
	switch {
	case errors.Is(err, errNoConfig):
		cfg = defaultSettings(d.band)
	case err != nil:
		return err
	}
	standby, err := d.nvm.takeStandby(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.sess = session{DevNonce: d.sess.DevNonce}
	d.standby = standby
	return nil
}

// Close releases the non-volatile memory.
func (d *Dot) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nvm.close()
}

// HostEUI derives a device EUI from the host name.
func HostEUI() types.EUI64 {
	name, err := os.Hostname()
	if err != nil {
		name = "dotsim"
	}
	return deriveEUI(name)
}

// deriveEUI maps a string to an EUI, used for network names.
func deriveEUI(s string) types.EUI64 {
	var eui types.EUI64
	sum := sha256.Sum256([]byte(s))
	copy(eui[:], sum[:])
	return eui
}

// deriveKey maps a passphrase to a key.
func deriveKey(s string) types.AES128Key {
	var key types.AES128Key
	sum := sha256.Sum256([]byte(s))
	copy(key[:], sum[:])
	return key
}

func invalidParam(op string) error {
	return dot.NewStatusError(op, dot.InvalidParam)
}

// set applies a validated change under the lock.
func (d *Dot) set(op string, valid bool, apply func()) error {
	if !valid {
		return invalidParam(op)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	apply()
	return nil
}

// JoinMode returns the join mode.
func (d *Dot) JoinMode() dot.JoinMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.JoinMode
}

// SetJoinMode sets the join mode.
func (d *Dot) SetJoinMode(m dot.JoinMode) error {
	return d.set("set join mode", m >= dot.Manual && m <= dot.PeerToPeer, func() { d.cfg.JoinMode = m })
}

// NetworkName returns the network name.
func (d *Dot) NetworkName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.NetworkName
}

// SetNetworkName sets the network name.
func (d *Dot) SetNetworkName(name string) error {
	return d.set("set network name", true, func() { d.cfg.NetworkName = name })
}

// NetworkPassphrase returns the network passphrase.
func (d *Dot) NetworkPassphrase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.NetworkPassphrase
}

// SetNetworkPassphrase sets the network passphrase.
func (d *Dot) SetNetworkPassphrase(phrase string) error {
	return d.set("set network passphrase", true, func() { d.cfg.NetworkPassphrase = phrase })
}

// NetworkID returns the network id (join EUI).
func (d *Dot) NetworkID() types.EUI64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.NetworkID
}

// SetNetworkID sets the network id.
func (d *Dot) SetNetworkID(id types.EUI64) error {
	return d.set("set network ID", true, func() { d.cfg.NetworkID = id })
}

// NetworkKey returns the network key (app key).
func (d *Dot) NetworkKey() types.AES128Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.NetworkKey
}

// SetNetworkKey sets the network key.
func (d *Dot) SetNetworkKey(key types.AES128Key) error {
	return d.set("set network KEY", true, func() { d.cfg.NetworkKey = key })
}

// NetworkAddress returns the session device address.
func (d *Dot) NetworkAddress() types.DevAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.DevAddr
}

// SetNetworkAddress sets the session device address.
func (d *Dot) SetNetworkAddress(addr types.DevAddr) error {
	return d.set("set network address", true, func() {
		d.cfg.NetworkAddress = addr
		d.sess.DevAddr = addr
	})
}

// NetworkSessionKey returns the network session key.
func (d *Dot) NetworkSessionKey() types.AES128Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.NwkSKey
}

// SetNetworkSessionKey sets the network session key.
func (d *Dot) SetNetworkSessionKey(key types.AES128Key) error {
	return d.set("set network session key", true, func() {
		d.cfg.NetworkSessionKey = key
		d.sess.NwkSKey = key
	})
}

// DataSessionKey returns the data session key.
func (d *Dot) DataSessionKey() types.AES128Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.AppSKey
}

// SetDataSessionKey sets the data session key.
func (d *Dot) SetDataSessionKey(key types.AES128Key) error {
	return d.set("set data session key", true, func() {
		d.cfg.DataSessionKey = key
		d.sess.AppSKey = key
	})
}

// FrequencyBand returns the band of the hardware variant.
func (d *Dot) FrequencyBand() regions.Region {
	return d.band
}

// FrequencySubBand returns the sub band.
func (d *Dot) FrequencySubBand() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.SubBand
}

// SetFrequencySubBand sets the sub band, which must exist in the band.
func (d *Dot) SetFrequencySubBand(sb uint8) error {
	return d.set("set frequency sub band", d.band.ValidateSubBand(sb) == nil, func() { d.cfg.SubBand = sb })
}

// PublicNetwork returns the public network setting.
func (d *Dot) PublicNetwork() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.PublicNetwork
}

// SetPublicNetwork sets the public network setting.
func (d *Dot) SetPublicNetwork(on bool) error {
	return d.set("set public network", true, func() { d.cfg.PublicNetwork = on })
}

// AckAttempts returns the number of confirmed uplink retries, 0 for unconfirmed uplinks.
func (d *Dot) AckAttempts() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.AckAttempts
}

// SetAckAttempts sets the number of confirmed uplink retries.
func (d *Dot) SetAckAttempts(n uint8) error {
	return d.set("set acks", n <= maxAckAttempts, func() { d.cfg.AckAttempts = n })
}

// TxFrequency returns the peer-to-peer frequency.
func (d *Dot) TxFrequency() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.TxFrequency
}

// SetTxFrequency sets the peer-to-peer frequency, which must be in the band.
func (d *Dot) SetTxFrequency(hz uint32) error {
	return d.set("set TX frequency", inBand(d.band, hz), func() { d.cfg.TxFrequency = hz })
}

// TxDataRate returns the datarate index.
func (d *Dot) TxDataRate() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.TxDataRate
}

// SetTxDataRate sets the datarate index, which must exist in the band.
func (d *Dot) SetTxDataRate(dr uint8) error {
	_, err := d.band.DataRate(dr)
	return d.set("set TX datarate", err == nil, func() { d.cfg.TxDataRate = dr })
}

// TxPower returns the TX power in dBm.
func (d *Dot) TxPower() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.TxPower
}

// SetTxPower sets the TX power in dBm.
func (d *Dot) SetTxPower(dbm uint8) error {
	return d.set("set TX power", dbm <= maxTxPower, func() { d.cfg.TxPower = dbm })
}

// AntennaGain returns the antenna gain in dBi.
func (d *Dot) AntennaGain() int8 {
	return defaultAntennaGain
}

// LinkCheckCount returns the link check count.
func (d *Dot) LinkCheckCount() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.LinkCheckCount
}

// SetLinkCheckCount sets the link check count.
func (d *Dot) SetLinkCheckCount(n uint8) error {
	return d.set("set link check count", true, func() { d.cfg.LinkCheckCount = n })
}

// LinkCheckThreshold returns the link check threshold.
func (d *Dot) LinkCheckThreshold() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.LinkCheckThreshold
}

// SetLinkCheckThreshold sets the link check threshold.
func (d *Dot) SetLinkCheckThreshold(n uint8) error {
	return d.set("set link check threshold", true, func() { d.cfg.LinkCheckThreshold = n })
}

// Class returns the LoRaWAN device class.
func (d *Dot) Class() string {
	return deviceClass
}

// DeviceID returns the device EUI.
func (d *Dot) DeviceID() types.EUI64 {
	return d.deviceEUI
}

// LibraryID returns the radio library version.
func (d *Dot) LibraryID() string {
	return libraryVersion
}

// ResetConfig restores the default configuration in RAM.
func (d *Dot) ResetConfig() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = defaultSettings(d.band)
}

// ResetNetworkSession drops the session in RAM. The dev nonce counter is kept so nonces are never reused.
func (d *Dot) ResetNetworkSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sess = session{DevNonce: d.sess.DevNonce}
}

// SaveConfig writes the configuration to non-volatile memory.
func (d *Dot) SaveConfig(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.nvm.saveConfig(ctx, d.cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// SaveNetworkSession writes the session to non-volatile memory.
func (d *Dot) SaveNetworkSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.nvm.saveSession(ctx, d.sess); err != nil {
		return fmt.Errorf("failed to save network session: %w", err)
	}
	return nil
}

// RestoreNetworkSession reads the session back from non-volatile memory.
func (d *Dot) RestoreNetworkSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, err := d.nvm.loadSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore network session: %w", err)
	}
	d.sess = sess
	return nil
}
