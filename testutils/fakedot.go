// Package testutils creates helper functions and fakes for tests
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

const (
	// TestDevAddr is fake dev addr for tests.
	TestDevAddr = "01020304"
	// TestNwkSKey is fake network session key for tests.
	TestNwkSKey = "01020304010203040102030401020304"
	// TestAppSKey is fake data session key for tests.
	TestAppSKey = "0123456789ABCDEF0123456789ABCDEE"
)

// SleepCall records one call to FakeDot.Sleep.
type SleepCall struct {
	Interval time.Duration
	Mode     dot.WakeMode
	Deep     bool
}

// FakeDot is an in-memory dot.Dot that records every call.
// Setters listed in Fail return that status instead of writing.
type FakeDot struct {
	mu sync.Mutex

	Mode       dot.JoinMode
	Name       string
	Passphrase string
	NetID      types.EUI64
	NetKey     types.AES128Key
	Addr       types.DevAddr
	NwkSKey    types.AES128Key
	AppSKey    types.AES128Key
	Band       regions.Region
	SubBand    uint8
	Public     bool
	Ack        uint8
	TxFreq     uint32
	TxDR       uint8
	TxPow      uint8
	Gain       int8
	LCCount    uint8
	LCThresh   uint8
	Pin        dot.Pin
	Wake       dot.WakeMode
	Standby    bool
	IsJoined   bool
	DeviceEUI  types.EUI64
	Library    string
	DeviceCls  string
	NextTx     time.Duration
	Fail       map[string]dot.Status
	JoinErrors []error
	SendErr    error
	SleepErr   error
	RestoreErr error

	// Calls lists every mutating call in order, setters as "set <field>".
	Calls  []string
	Sleeps []SleepCall
	Sent   [][]byte
	Joins  int
}

// NewFakeDot returns a FakeDot with the radio defaults.
func NewFakeDot() *FakeDot {
	return &FakeDot{
		Band:      regions.US,
		TxPow:     11,
		Gain:      3,
		Pin:       dot.Wake,
		Wake:      dot.RTCAlarm,
		Library:   "4.1.5-mbed144",
		DeviceCls: "A",
		Fail:      map[string]dot.Status{},
	}
}

func (f *FakeDot) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *FakeDot) set(field string, apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set " + field)
	if s, ok := f.Fail[field]; ok {
		return dot.NewStatusError("set "+field, s)
	}
	apply()
	return nil
}

// Writes counts the setter calls.
func (f *FakeDot) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) > 4 && c[:4] == "set " {
			n++
		}
	}
	return n
}

// CallsSnapshot returns a copy of the recorded calls.
func (f *FakeDot) CallsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// ClearCalls forgets the recorded calls.
func (f *FakeDot) ClearCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
	f.Sleeps = nil
}

// JoinMode returns the join mode.
func (f *FakeDot) JoinMode() dot.JoinMode { return f.Mode }

// SetJoinMode sets the join mode.
func (f *FakeDot) SetJoinMode(m dot.JoinMode) error {
	return f.set("join mode", func() { f.Mode = m })
}

// NetworkName returns the network name.
func (f *FakeDot) NetworkName() string { return f.Name }

// SetNetworkName sets the network name.
func (f *FakeDot) SetNetworkName(s string) error {
	return f.set("network name", func() { f.Name = s })
}

// NetworkPassphrase returns the network passphrase.
func (f *FakeDot) NetworkPassphrase() string { return f.Passphrase }

// SetNetworkPassphrase sets the network passphrase.
func (f *FakeDot) SetNetworkPassphrase(s string) error {
	return f.set("network passphrase", func() { f.Passphrase = s })
}

// NetworkID returns the network id.
func (f *FakeDot) NetworkID() types.EUI64 { return f.NetID }

// SetNetworkID sets the network id.
func (f *FakeDot) SetNetworkID(id types.EUI64) error {
	return f.set("network ID", func() { f.NetID = id })
}

// NetworkKey returns the network key.
func (f *FakeDot) NetworkKey() types.AES128Key { return f.NetKey }

// SetNetworkKey sets the network key.
func (f *FakeDot) SetNetworkKey(k types.AES128Key) error {
	return f.set("network KEY", func() { f.NetKey = k })
}

// NetworkAddress returns the network address.
func (f *FakeDot) NetworkAddress() types.DevAddr { return f.Addr }

// SetNetworkAddress sets the network address.
func (f *FakeDot) SetNetworkAddress(a types.DevAddr) error {
	return f.set("network address", func() { f.Addr = a })
}

// NetworkSessionKey returns the network session key.
func (f *FakeDot) NetworkSessionKey() types.AES128Key { return f.NwkSKey }

// SetNetworkSessionKey sets the network session key.
func (f *FakeDot) SetNetworkSessionKey(k types.AES128Key) error {
	return f.set("network session key", func() { f.NwkSKey = k })
}

// DataSessionKey returns the data session key.
func (f *FakeDot) DataSessionKey() types.AES128Key { return f.AppSKey }

// SetDataSessionKey sets the data session key.
func (f *FakeDot) SetDataSessionKey(k types.AES128Key) error {
	return f.set("data session key", func() { f.AppSKey = k })
}

// FrequencyBand returns the band.
func (f *FakeDot) FrequencyBand() regions.Region { return f.Band }

// FrequencySubBand returns the sub band.
func (f *FakeDot) FrequencySubBand() uint8 { return f.SubBand }

// SetFrequencySubBand sets the sub band.
func (f *FakeDot) SetFrequencySubBand(b uint8) error {
	return f.set("frequency sub band", func() { f.SubBand = b })
}

// PublicNetwork returns the public network flag.
func (f *FakeDot) PublicNetwork() bool { return f.Public }

// SetPublicNetwork sets the public network flag.
func (f *FakeDot) SetPublicNetwork(p bool) error {
	return f.set("public network", func() { f.Public = p })
}

// AckAttempts returns the ack attempts.
func (f *FakeDot) AckAttempts() uint8 { return f.Ack }

// SetAckAttempts sets the ack attempts.
func (f *FakeDot) SetAckAttempts(a uint8) error {
	return f.set("acks", func() { f.Ack = a })
}

// TxFrequency returns the tx frequency.
func (f *FakeDot) TxFrequency() uint32 { return f.TxFreq }

// SetTxFrequency sets the tx frequency.
func (f *FakeDot) SetTxFrequency(hz uint32) error {
	return f.set("TX frequency", func() { f.TxFreq = hz })
}

// TxDataRate returns the tx datarate.
func (f *FakeDot) TxDataRate() uint8 { return f.TxDR }

// SetTxDataRate sets the tx datarate.
func (f *FakeDot) SetTxDataRate(dr uint8) error {
	return f.set("TX datarate", func() { f.TxDR = dr })
}

// TxPower returns the tx power.
func (f *FakeDot) TxPower() uint8 { return f.TxPow }

// SetTxPower sets the tx power.
func (f *FakeDot) SetTxPower(p uint8) error {
	return f.set("TX power", func() { f.TxPow = p })
}

// AntennaGain returns the antenna gain.
func (f *FakeDot) AntennaGain() int8 { return f.Gain }

// LinkCheckCount returns the link check count.
func (f *FakeDot) LinkCheckCount() uint8 { return f.LCCount }

// SetLinkCheckCount sets the link check count.
func (f *FakeDot) SetLinkCheckCount(n uint8) error {
	return f.set("link check count", func() { f.LCCount = n })
}

// LinkCheckThreshold returns the link check threshold.
func (f *FakeDot) LinkCheckThreshold() uint8 { return f.LCThresh }

// SetLinkCheckThreshold sets the link check threshold.
func (f *FakeDot) SetLinkCheckThreshold(n uint8) error {
	return f.set("link check threshold", func() { f.LCThresh = n })
}

// Class returns the device class.
func (f *FakeDot) Class() string { return f.DeviceCls }

// DeviceID returns the device id.
func (f *FakeDot) DeviceID() types.EUI64 { return f.DeviceEUI }

// LibraryID returns the library version.
func (f *FakeDot) LibraryID() string { return f.Library }

// Join pops the next result from JoinErrors, succeeding once they run out.
func (f *FakeDot) Join(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("join")
	f.Joins++
	if len(f.JoinErrors) > 0 {
		err := f.JoinErrors[0]
		f.JoinErrors = f.JoinErrors[1:]
		if err != nil {
			return err
		}
	}
	f.IsJoined = true
	return nil
}

// Send records the payload and returns SendErr.
func (f *FakeDot) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("send")
	f.Sent = append(f.Sent, append([]byte(nil), payload...))
	return f.SendErr
}

// NextTxDelay returns NextTx.
func (f *FakeDot) NextTxDelay() time.Duration { return f.NextTx }

// Joined reports whether a join succeeded.
func (f *FakeDot) Joined() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.IsJoined
}

// Sleep records the call and returns SleepErr, or dot.ErrDeepSleepReset for a deep sleep.
func (f *FakeDot) Sleep(ctx context.Context, interval time.Duration, mode dot.WakeMode, deep bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("sleep")
	f.Sleeps = append(f.Sleeps, SleepCall{Interval: interval, Mode: mode, Deep: deep})
	f.Wake = mode
	if f.SleepErr != nil {
		return f.SleepErr
	}
	if deep {
		f.Standby = true
		return dot.ErrDeepSleepReset
	}
	return nil
}

// WakePin returns the wake pin.
func (f *FakeDot) WakePin() dot.Pin { return f.Pin }

// SetWakePin sets the wake pin.
func (f *FakeDot) SetWakePin(p dot.Pin) error {
	return f.set("wake pin", func() { f.Pin = p })
}

// WakeMode returns the last wake mode used.
func (f *FakeDot) WakeMode() dot.WakeMode { return f.Wake }

// StandbyFlag returns Standby.
func (f *FakeDot) StandbyFlag() bool { return f.Standby }

// ResetConfig records the call.
func (f *FakeDot) ResetConfig() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset config")
}

// ResetNetworkSession records the call.
func (f *FakeDot) ResetNetworkSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset network session")
	f.IsJoined = false
}

// SaveConfig records the call.
func (f *FakeDot) SaveConfig(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save config")
	return nil
}

// SaveNetworkSession records the call.
func (f *FakeDot) SaveNetworkSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save network session")
	return nil
}

// RestoreNetworkSession records the call and fails with RestoreErr when set.
func (f *FakeDot) RestoreNetworkSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restore network session")
	if f.RestoreErr != nil {
		return f.RestoreErr
	}
	f.IsJoined = true
	return nil
}
