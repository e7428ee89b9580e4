// Package dot defines the capability interfaces of an xDot/mDot LoRa radio module.
package dot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

// ErrDeepSleepReset is returned by Sleep when the radio woke from deep sleep.
// RAM state is lost and the caller must start again from the configuration step.
var ErrDeepSleepReset = errors.New("woke from deep sleep, ram state lost")

var (
	errUnknownJoinMode = errors.New("unknown join mode")
	errUnknownWakeMode = errors.New("unknown wake mode")
	errUnknownPin      = errors.New("unknown pin")
)

// JoinMode selects how the radio obtains its network session.
type JoinMode int

const (
	// Manual uses a provisioned network address and session keys (ABP).
	Manual JoinMode = iota
	// OTA joins over the air with a join request.
	OTA
	// AutoOTA joins over the air and rejoins automatically when the session is lost.
	AutoOTA
	// PeerToPeer talks directly to another radio with shared session keys.
	PeerToPeer
)

func (m JoinMode) String() string {
	switch m {
	case Manual:
		return "MANUAL"
	case OTA:
		return "OTA"
	case AutoOTA:
		return "AUTO_OTA"
	case PeerToPeer:
		return "PEER_TO_PEER"
	default:
		return "UNKNOWN"
	}
}

// ParseJoinMode parses a join mode name, case insensitive.
func ParseJoinMode(s string) (JoinMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MANUAL", "ABP":
		return Manual, nil
	case "OTA", "OTAA":
		return OTA, nil
	case "AUTO_OTA":
		return AutoOTA, nil
	case "PEER_TO_PEER", "P2P":
		return PeerToPeer, nil
	default:
		return Manual, fmt.Errorf("%w: %q", errUnknownJoinMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m JoinMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *JoinMode) UnmarshalText(text []byte) error {
	parsed, err := ParseJoinMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// WakeMode selects what ends a sleep.
type WakeMode int

const (
	// RTCAlarm wakes when the sleep interval elapses.
	RTCAlarm WakeMode = iota
	// Interrupt wakes on the wake pin only.
	Interrupt
	// RTCAlarmOrInterrupt wakes on whichever comes first.
	RTCAlarmOrInterrupt
)

func (m WakeMode) String() string {
	switch m {
	case RTCAlarm:
		return "RTC_ALARM"
	case Interrupt:
		return "INTERRUPT"
	case RTCAlarmOrInterrupt:
		return "RTC_ALARM_OR_INTERRUPT"
	default:
		return "UNKNOWN"
	}
}

// UsesInterrupt reports whether the wake pin can end a sleep in this mode.
func (m WakeMode) UsesInterrupt() bool {
	return m == Interrupt || m == RTCAlarmOrInterrupt
}

// ParseWakeMode parses a wake mode name, case insensitive.
func ParseWakeMode(s string) (WakeMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RTC_ALARM", "RTC":
		return RTCAlarm, nil
	case "INTERRUPT":
		return Interrupt, nil
	case "RTC_ALARM_OR_INTERRUPT", "":
		return RTCAlarmOrInterrupt, nil
	default:
		return RTCAlarm, fmt.Errorf("%w: %q", errUnknownWakeMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m WakeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *WakeMode) UnmarshalText(text []byte) error {
	parsed, err := ParseWakeMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Pin names an xDot IO.
type Pin string

// xDot IO names.
const (
	Wake     Pin = "WAKE"
	GPIO0    Pin = "GPIO0"
	GPIO1    Pin = "GPIO1"
	GPIO2    Pin = "GPIO2"
	GPIO3    Pin = "GPIO3"
	UART1RX  Pin = "UART1_RX"
	UART1TX  Pin = "UART1_TX"
	UART1RTS Pin = "UART1_RTS"
	UART1CTS Pin = "UART1_CTS"
	I2CSDA   Pin = "I2C_SDA"
	I2CSCL   Pin = "I2C_SCL"
	SPIMOSI  Pin = "SPI_MOSI"
	SPIMISO  Pin = "SPI_MISO"
	SPISCK   Pin = "SPI_SCK"
	SPINSS   Pin = "SPI_NSS"
)

// WakePins are the IOs that can be configured to end a sleep.
var WakePins = []Pin{Wake, GPIO0, GPIO1, GPIO2, GPIO3, UART1RX}

// ParsePin parses an xDot IO name, case insensitive.
func ParsePin(s string) (Pin, error) {
	p := Pin(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case Wake, GPIO0, GPIO1, GPIO2, GPIO3, UART1RX, UART1TX, UART1RTS, UART1CTS,
		I2CSDA, I2CSCL, SPIMOSI, SPIMISO, SPISCK, SPINSS:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownPin, s)
	}
}

// IsWakePin reports whether the IO can wake the radio.
func (p Pin) IsWakePin() bool {
	for _, w := range WakePins {
		if p == w {
			return true
		}
	}
	return false
}

// Settings reads and writes the radio configuration.
// Setters return a *StatusError when the radio rejects the value.
type Settings interface {
	JoinMode() JoinMode
	SetJoinMode(JoinMode) error

	NetworkName() string
	SetNetworkName(string) error
	NetworkPassphrase() string
	SetNetworkPassphrase(string) error
	NetworkID() types.EUI64
	SetNetworkID(types.EUI64) error
	NetworkKey() types.AES128Key
	SetNetworkKey(types.AES128Key) error

	NetworkAddress() types.DevAddr
	SetNetworkAddress(types.DevAddr) error
	NetworkSessionKey() types.AES128Key
	SetNetworkSessionKey(types.AES128Key) error
	DataSessionKey() types.AES128Key
	SetDataSessionKey(types.AES128Key) error

	FrequencyBand() regions.Region
	FrequencySubBand() uint8
	SetFrequencySubBand(uint8) error
	PublicNetwork() bool
	SetPublicNetwork(bool) error
	AckAttempts() uint8
	SetAckAttempts(uint8) error

	TxFrequency() uint32
	SetTxFrequency(uint32) error
	TxDataRate() uint8
	SetTxDataRate(uint8) error
	TxPower() uint8
	SetTxPower(uint8) error
	AntennaGain() int8

	LinkCheckCount() uint8
	SetLinkCheckCount(uint8) error
	LinkCheckThreshold() uint8
	SetLinkCheckThreshold(uint8) error

	Class() string
	DeviceID() types.EUI64
	LibraryID() string
}

// Network joins and transmits.
type Network interface {
	Join(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	// NextTxDelay is the time left before the duty cycle allows another transmission.
	NextTxDelay() time.Duration
	Joined() bool
}

// Power puts the radio to sleep.
type Power interface {
	// Sleep halts until the interval elapses or the wake pin fires, depending on mode.
	// A deep sleep returns ErrDeepSleepReset on wake.
	Sleep(ctx context.Context, interval time.Duration, mode WakeMode, deep bool) error
	WakePin() Pin
	SetWakePin(Pin) error
	WakeMode() WakeMode
	// StandbyFlag is true when the radio booted out of deep sleep.
	StandbyFlag() bool
}

// Storage persists configuration and session state in non-volatile memory.
type Storage interface {
	ResetConfig()
	ResetNetworkSession()
	SaveConfig(ctx context.Context) error
	SaveNetworkSession(ctx context.Context) error
	RestoreNetworkSession(ctx context.Context) error
}

// Dot is the full radio capability set.
type Dot interface {
	Settings
	Network
	Power
	Storage
}
