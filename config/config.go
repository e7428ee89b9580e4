// Package config loads the end-device configuration.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	envldr "github.com/SENERGY-Platform/go-env-loader"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/lowpower"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/resource"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "XDOT_CONFIG"

// Error variables for validation.
var (
	errNetworkAddressRequired = errors.New("network address is required for MANUAL and PEER_TO_PEER join modes")
	errNetworkAddressLength   = errors.New("network address must be 4 bytes")
	errNetworkAddressReserved = errors.New("network address must be between 00000001 and FFFFFFFE")
	errNwkSKeyRequired        = errors.New("network session key is required for MANUAL and PEER_TO_PEER join modes")
	errNwkSKeyLength          = errors.New("network session key must be 16 bytes")
	errDataSKeyRequired       = errors.New("data session key is required for MANUAL and PEER_TO_PEER join modes")
	errDataSKeyLength         = errors.New("data session key must be 16 bytes")
	errOTACredentials         = errors.New("OTA join modes need a network name and passphrase or a network ID and key")
	errNetworkIDLength        = errors.New("network ID must be 8 bytes")
	errNetworkKeyLength       = errors.New("network key must be 16 bytes")
	errUnknownBand            = errors.New("frequency band must be US915 or EU868")
	errAckRange               = errors.New("ack attempts must be between 0 and 8")
	errTxPowerRange           = errors.New("tx power exceeds the band maximum")
	errWakePin                = errors.New("wake pin must be one of WAKE, GPIO0-3 or UART1_RX")
	errTxFrequencyRequired    = errors.New("tx frequency is required for PEER_TO_PEER join mode")
	errNVMPathRequired        = errors.New("nvm path is required")
	errGPIODriver             = errors.New("gpio driver must be periph or pinctrl")
)

// GPIO drivers.
const (
	DriverPeriph  = "periph"
	DriverPinctrl = "pinctrl"
)

// Config defines the end-device's config.
// Keys and addresses are hex, most significant byte first, the way they are displayed.
type Config struct {
	JoinMode dot.JoinMode `json:"join_mode" env_var:"XDOT_JOIN_MODE"`

	NetworkName       string `json:"network_name,omitempty" env_var:"XDOT_NETWORK_NAME"`
	NetworkPassphrase string `json:"network_passphrase,omitempty" env_var:"XDOT_NETWORK_PASSPHRASE"`
	NetworkID         string `json:"network_id,omitempty" env_var:"XDOT_NETWORK_ID"`
	NetworkKey        string `json:"network_key,omitempty" env_var:"XDOT_NETWORK_KEY"`

	NetworkAddress    string `json:"network_address,omitempty" env_var:"XDOT_NETWORK_ADDRESS"`
	NetworkSessionKey string `json:"network_session_key,omitempty" env_var:"XDOT_NETWORK_SESSION_KEY"`
	DataSessionKey    string `json:"data_session_key,omitempty" env_var:"XDOT_DATA_SESSION_KEY"`

	FrequencyBand    string `json:"frequency_band" env_var:"XDOT_FREQUENCY_BAND"`
	FrequencySubBand uint8  `json:"frequency_sub_band" env_var:"XDOT_FREQUENCY_SUB_BAND"`
	PublicNetwork    bool   `json:"public_network" env_var:"XDOT_PUBLIC_NETWORK"`
	Ack              uint8  `json:"ack" env_var:"XDOT_ACK"`

	TxFrequency uint32 `json:"tx_frequency,omitempty" env_var:"XDOT_TX_FREQUENCY"`
	TxDataRate  uint8  `json:"tx_datarate" env_var:"XDOT_TX_DATARATE"`
	TxPower     uint8  `json:"tx_power" env_var:"XDOT_TX_POWER"`

	// Link checks are off when the count is 0.
	LinkCheckCount     uint8 `json:"link_check_count,omitempty" env_var:"XDOT_LINK_CHECK_COUNT"`
	LinkCheckThreshold uint8 `json:"link_check_threshold,omitempty" env_var:"XDOT_LINK_CHECK_THRESHOLD"`

	SleepMode lowpower.SleepMode `json:"sleep_mode" env_var:"XDOT_SLEEP_MODE"`
	WakeMode  dot.WakeMode       `json:"wake_mode" env_var:"XDOT_WAKE_MODE"`
	WakePin   dot.Pin            `json:"wake_pin" env_var:"XDOT_WAKE_PIN"`

	// GPIO maps xDot IO names to host gpio names for low power IO handling.
	GPIO        map[string]string `json:"gpio,omitempty"`
	GPIODriver  string            `json:"gpio_driver,omitempty" env_var:"XDOT_GPIO_DRIVER"`
	NVMPath     string            `json:"nvm_path" env_var:"XDOT_NVM_PATH"`
	DecoderPath string            `json:"decoder_path,omitempty" env_var:"XDOT_DECODER_PATH"`
	LogLevel    string            `json:"log_level,omitempty" env_var:"LOG_LEVEL"`

	ChirpstackURL           string          `json:"chirpstack_url,omitempty" env_var:"CHIRPSTACK_URL"`
	ChirpstackAPIToken      ChirpstackToken `json:"chirpstack_api_token,omitempty" env_var:"CHIRPSTACK_API_TOKEN"`
	ChirpstackInsecure      bool            `json:"chirpstack_insecure,omitempty" env_var:"CHIRPSTACK_INSECURE"`
	ChirpstackApplicationID string          `json:"chirpstack_application_id,omitempty" env_var:"CHIRPSTACK_APPLICATION_ID"`
	ChirpstackProfileID     string          `json:"chirpstack_device_profile_id,omitempty" env_var:"CHIRPSTACK_DEVICE_PROFILE_ID"`
}

// Defaults is the demo provisioning: a MANUAL session matching
//
//	lora-query -a 01020304 A 0102030401020304 <device ID> 01020304010203040102030401020304 01020304010203040102030401020304
func Defaults() Config {
	return Config{
		JoinMode:          dot.Manual,
		NetworkAddress:    "01020304",
		NetworkSessionKey: "01020304010203040102030401020304",
		DataSessionKey:    "01020304010203040102030401020304",
		FrequencyBand:     regions.RegionInfoUS.Name,
		FrequencySubBand:  0,
		PublicNetwork:     false,
		Ack:               0,
		TxFrequency:       regions.RegionInfoUS.DefaultFrequency,
		TxDataRate:        0,
		TxPower:           11,
		SleepMode:         lowpower.Deep,
		WakeMode:          dot.RTCAlarmOrInterrupt,
		WakePin:           dot.Wake,
		GPIODriver:        DriverPeriph,
		NVMPath:           "xdot_nvm.db",
		LogLevel:          "info",
	}
}

// Load starts from Defaults, applies the JSON file named by XDOT_CONFIG when set,
// then environment overrides, and validates the result.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv(PathEnv); path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := envldr.LoadEnvUserParser(&cfg, nil, GetTypeParser(), GetKindParser()); err != nil {
		return Config{}, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate("config"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (conf *Config) readFile(path string) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, conf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Save writes the config as indented JSON.
func (conf *Config) Save(path string) error {
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	region := regions.GetRegion(conf.FrequencyBand)
	if region == regions.Unspecified {
		return resource.NewConfigValidationError(path, errUnknownBand)
	}
	if err := region.ValidateSubBand(conf.FrequencySubBand); err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	if _, err := region.DataRate(conf.TxDataRate); err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	if conf.TxPower > region.Info().MaxTxPower {
		return resource.NewConfigValidationError(path, errTxPowerRange)
	}
	if conf.Ack > 8 {
		return resource.NewConfigValidationError(path, errAckRange)
	}
	if !conf.WakePin.IsWakePin() {
		return resource.NewConfigValidationError(path, errWakePin)
	}
	if conf.NVMPath == "" {
		return resource.NewConfigValidationError(path, errNVMPathRequired)
	}
	if conf.GPIODriver != DriverPeriph && conf.GPIODriver != DriverPinctrl {
		return resource.NewConfigValidationError(path, errGPIODriver)
	}

	switch conf.JoinMode {
	case dot.OTA, dot.AutoOTA:
		return conf.validateOTAAttributes(path)
	case dot.PeerToPeer:
		if conf.TxFrequency == 0 {
			return resource.NewConfigValidationError(path, errTxFrequencyRequired)
		}
		return conf.validateSessionAttributes(path)
	default:
		return conf.validateSessionAttributes(path)
	}
}

func (conf *Config) validateOTAAttributes(path string) error {
	if conf.NetworkName != "" && conf.NetworkPassphrase != "" {
		return nil
	}
	if conf.NetworkID == "" || conf.NetworkKey == "" {
		return resource.NewConfigValidationError(path, errOTACredentials)
	}
	if len(conf.NetworkID) != 16 {
		return resource.NewConfigValidationError(path, errNetworkIDLength)
	}
	if len(conf.NetworkKey) != 32 {
		return resource.NewConfigValidationError(path, errNetworkKeyLength)
	}
	if _, err := conf.NetworkCredentials(); err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	return nil
}

func (conf *Config) validateSessionAttributes(path string) error {
	if conf.NetworkAddress == "" {
		return resource.NewConfigValidationError(path, errNetworkAddressRequired)
	}
	if len(conf.NetworkAddress) != 8 {
		return resource.NewConfigValidationError(path, errNetworkAddressLength)
	}
	if conf.NetworkSessionKey == "" {
		return resource.NewConfigValidationError(path, errNwkSKeyRequired)
	}
	if len(conf.NetworkSessionKey) != 32 {
		return resource.NewConfigValidationError(path, errNwkSKeyLength)
	}
	if conf.DataSessionKey == "" {
		return resource.NewConfigValidationError(path, errDataSKeyRequired)
	}
	if len(conf.DataSessionKey) != 32 {
		return resource.NewConfigValidationError(path, errDataSKeyLength)
	}
	session, err := conf.Session()
	if err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	if session.Address == (types.DevAddr{}) || session.Address == (types.DevAddr{0xFF, 0xFF, 0xFF, 0xFF}) {
		return resource.NewConfigValidationError(path, errNetworkAddressReserved)
	}
	return nil
}

// Region returns the configured frequency band.
func (conf *Config) Region() regions.Region {
	return regions.GetRegion(conf.FrequencyBand)
}

// Session is a provisioned network session.
type Session struct {
	Address  types.DevAddr
	NwkSKey  types.AES128Key
	DataSKey types.AES128Key
}

// Session decodes the provisioned network address and session keys.
func (conf *Config) Session() (Session, error) {
	var s Session
	if err := decodeHex("network address", conf.NetworkAddress, s.Address[:]); err != nil {
		return Session{}, err
	}
	if err := decodeHex("network session key", conf.NetworkSessionKey, s.NwkSKey[:]); err != nil {
		return Session{}, err
	}
	if err := decodeHex("data session key", conf.DataSessionKey, s.DataSKey[:]); err != nil {
		return Session{}, err
	}
	return s, nil
}

// NetworkCredentials are the OTA network ID and key.
type NetworkCredentials struct {
	ID  types.EUI64
	Key types.AES128Key
}

// NetworkCredentials decodes the OTA network ID and key.
func (conf *Config) NetworkCredentials() (NetworkCredentials, error) {
	var c NetworkCredentials
	if err := decodeHex("network ID", conf.NetworkID, c.ID[:]); err != nil {
		return NetworkCredentials{}, err
	}
	if err := decodeHex("network key", conf.NetworkKey, c.Key[:]); err != nil {
		return NetworkCredentials{}, err
	}
	return c, nil
}

// UsesNamePhrase reports whether OTA credentials come from the network name and passphrase.
func (conf *Config) UsesNamePhrase() bool {
	return conf.NetworkName != "" && conf.NetworkPassphrase != ""
}

func decodeHex(field, s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s is not hex: %w", field, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", field, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// ValidateProvisioning ensures the network server settings used by the provisioning tool are present.
func (conf *Config) ValidateProvisioning(path string) error {
	if conf.ChirpstackURL == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "chirpstack_url")
	}
	if conf.ChirpstackAPIToken == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "chirpstack_api_token")
	}
	if conf.ChirpstackApplicationID == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "chirpstack_application_id")
	}
	if conf.ChirpstackProfileID == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "chirpstack_device_profile_id")
	}
	return nil
}
