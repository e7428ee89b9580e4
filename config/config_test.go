package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/lowpower"
	"github.com/viam-modules/lorawan-enddevice/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/resource"
	"go.viam.com/test"
)

const testConfigPath = "config"

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	test.That(t, cfg.Validate(testConfigPath), test.ShouldBeNil)
	test.That(t, cfg.Region(), test.ShouldEqual, regions.US)

	session, err := cfg.Session()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Address, test.ShouldEqual, types.DevAddr{1, 2, 3, 4})
	test.That(t, session.NwkSKey, test.ShouldEqual, types.AES128Key{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		err     error
		invalid bool
	}{
		{
			name:   "unknown band",
			modify: func(c *Config) { c.FrequencyBand = "AS923" },
			err:    errUnknownBand,
		},
		{
			name:    "sub band out of range for EU868",
			modify:  func(c *Config) { c.FrequencyBand = "EU868"; c.FrequencySubBand = 1 },
			invalid: true,
		},
		{
			name:    "datarate out of range",
			modify:  func(c *Config) { c.TxDataRate = 5 },
			invalid: true,
		},
		{
			name:   "tx power too high for EU868",
			modify: func(c *Config) { c.FrequencyBand = "EU868"; c.TxPower = 20 },
			err:    errTxPowerRange,
		},
		{
			name:   "too many acks",
			modify: func(c *Config) { c.Ack = 9 },
			err:    errAckRange,
		},
		{
			name:   "wake pin cannot wake",
			modify: func(c *Config) { c.WakePin = dot.SPISCK },
			err:    errWakePin,
		},
		{
			name:   "no nvm path",
			modify: func(c *Config) { c.NVMPath = "" },
			err:    errNVMPathRequired,
		},
		{
			name:   "unknown gpio driver",
			modify: func(c *Config) { c.GPIODriver = "sysfs" },
			err:    errGPIODriver,
		},
		{
			name:   "missing network address",
			modify: func(c *Config) { c.NetworkAddress = "" },
			err:    errNetworkAddressRequired,
		},
		{
			name:   "short network address",
			modify: func(c *Config) { c.NetworkAddress = "010203" },
			err:    errNetworkAddressLength,
		},
		{
			name:   "reserved network address",
			modify: func(c *Config) { c.NetworkAddress = "FFFFFFFF" },
			err:    errNetworkAddressReserved,
		},
		{
			name:   "missing network session key",
			modify: func(c *Config) { c.NetworkSessionKey = "" },
			err:    errNwkSKeyRequired,
		},
		{
			name:   "short data session key",
			modify: func(c *Config) { c.DataSessionKey = "0102" },
			err:    errDataSKeyLength,
		},
		{
			name:   "peer to peer needs a frequency",
			modify: func(c *Config) { c.JoinMode = dot.PeerToPeer; c.TxFrequency = 0 },
			err:    errTxFrequencyRequired,
		},
		{
			name:   "OTA without credentials",
			modify: func(c *Config) { c.JoinMode = dot.OTA },
			err:    errOTACredentials,
		},
		{
			name:   "OTA with short network ID",
			modify: func(c *Config) { c.JoinMode = dot.OTA; c.NetworkID = "0102"; c.NetworkKey = testNetworkKey },
			err:    errNetworkIDLength,
		},
		{
			name: "OTA with name and passphrase",
			modify: func(c *Config) {
				c.JoinMode = dot.AutoOTA
				c.NetworkName = "MultiTech"
				c.NetworkPassphrase = "MultiTech"
			},
		},
		{
			name: "OTA with ID and key",
			modify: func(c *Config) {
				c.JoinMode = dot.OTA
				c.NetworkID = "0101010101010101"
				c.NetworkKey = testNetworkKey
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate(testConfigPath)
			switch {
			case tt.err != nil:
				test.That(t, err, test.ShouldBeError, resource.NewConfigValidationError(testConfigPath, tt.err))
			case tt.invalid:
				test.That(t, err, test.ShouldNotBeNil)
			default:
				test.That(t, err, test.ShouldBeNil)
			}
		})
	}
}

const testNetworkKey = "01010101010101010101010101010101"

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv(PathEnv, "")
		cfg, err := Load()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg, test.ShouldResemble, Defaults())
	})

	t.Run("file then environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "xdot.json")
		file := `{
			"join_mode": "PEER_TO_PEER",
			"network_address": "0A0B0C0D",
			"network_session_key": "000102030405060708090A0B0C0D0E0F",
			"data_session_key": "0F0E0D0C0B0A09080706050403020100",
			"frequency_band": "EU868",
			"tx_frequency": 869850000,
			"tx_datarate": 5,
			"tx_power": 14,
			"sleep_mode": "sleep",
			"wake_mode": "INTERRUPT",
			"wake_pin": "GPIO2",
			"gpio": {"GPIO2": "GPIO22"},
			"nvm_path": "/tmp/nvm.db"
		}`
		test.That(t, os.WriteFile(path, []byte(file), 0o600), test.ShouldBeNil)
		t.Setenv(PathEnv, path)
		t.Setenv("XDOT_TX_POWER", "10")
		t.Setenv("XDOT_SLEEP_MODE", "deepsleep")

		cfg, err := Load()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.JoinMode, test.ShouldEqual, dot.PeerToPeer)
		test.That(t, cfg.Region(), test.ShouldEqual, regions.EU)
		test.That(t, cfg.TxDataRate, test.ShouldEqual, uint8(5))
		test.That(t, cfg.TxPower, test.ShouldEqual, uint8(10))
		test.That(t, cfg.SleepMode, test.ShouldEqual, lowpower.Deep)
		test.That(t, cfg.WakeMode, test.ShouldEqual, dot.Interrupt)
		test.That(t, cfg.WakePin, test.ShouldEqual, dot.GPIO2)
		test.That(t, cfg.GPIO, test.ShouldResemble, map[string]string{"GPIO2": "GPIO22"})

		session, err := cfg.Session()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, session.Address, test.ShouldEqual, types.DevAddr{0x0A, 0x0B, 0x0C, 0x0D})
	})

	t.Run("bad join mode in environment", func(t *testing.T) {
		t.Setenv(PathEnv, "")
		t.Setenv("XDOT_JOIN_MODE", "CARRIER_PIGEON")
		_, err := Load()
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("8 bit values out of range in environment", func(t *testing.T) {
		for env, val := range map[string]string{
			"XDOT_ACK":                "264",
			"XDOT_FREQUENCY_SUB_BAND": "257",
			"XDOT_TX_POWER":           "-1",
		} {
			t.Run(env, func(t *testing.T) {
				t.Setenv(PathEnv, "")
				t.Setenv(env, val)
				_, err := Load()
				test.That(t, err, test.ShouldNotBeNil)
				test.That(t, err.Error(), test.ShouldContainSubstring, "failed to load config from environment")
			})
		}
	})

	t.Run("8 bit values in range in environment", func(t *testing.T) {
		t.Setenv(PathEnv, "")
		t.Setenv("XDOT_ACK", "8")
		t.Setenv("XDOT_FREQUENCY_SUB_BAND", "2")
		cfg, err := Load()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Ack, test.ShouldEqual, uint8(8))
		test.That(t, cfg.FrequencySubBand, test.ShouldEqual, uint8(2))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(PathEnv, filepath.Join(t.TempDir(), "nope.json"))
		_, err := Load()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "failed to read config file")
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := Defaults()
	cfg.JoinMode = dot.OTA
	cfg.NetworkName = "MultiTech"
	cfg.NetworkPassphrase = "MultiTech"
	test.That(t, cfg.Save(path), test.ShouldBeNil)

	t.Setenv(PathEnv, path)
	loaded, err := Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.JoinMode, test.ShouldEqual, dot.OTA)
	test.That(t, loaded.NetworkName, test.ShouldEqual, "MultiTech")
}

func TestValidateProvisioning(t *testing.T) {
	cfg := Defaults()
	err := cfg.ValidateProvisioning(testConfigPath)
	test.That(t, err, test.ShouldBeError, resource.NewConfigValidationFieldRequiredError(testConfigPath, "chirpstack_url"))

	cfg.ChirpstackURL = "localhost:8080"
	cfg.ChirpstackAPIToken = "secret"
	cfg.ChirpstackApplicationID = "app"
	cfg.ChirpstackProfileID = "profile"
	test.That(t, cfg.ValidateProvisioning(testConfigPath), test.ShouldBeNil)
	test.That(t, cfg.ChirpstackAPIToken.String(), test.ShouldEqual, "***")
}
