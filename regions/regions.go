// Package regions defines regional information
package regions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soypat/lora"
)

// Region represents the frequency band region.
type Region int

const (
	// Unspecified represents an unspecified region.
	Unspecified Region = iota
	// US represents the US915 frequency band.
	US
	// EU represents the EU868 frequency band.
	EU
)

var (
	errInvalidSubBand  = errors.New("invalid frequency sub band for region")
	errInvalidDataRate = errors.New("invalid datarate for region")
)

// DataRate maps a LoRaWAN datarate index to its modulation parameters.
type DataRate struct {
	SpreadFactor lora.SpreadingFactor
	Bandwidth    lora.Frequency
	// MaxPayload is the largest application payload allowed at this datarate.
	MaxPayload int
}

// RegionInfo is a struct to hold region specific end-device info.
type RegionInfo struct {
	Name string
	// MaxSubBand is the highest selectable frequency sub band, 0 means all channels.
	MaxSubBand uint8
	DataRates  []DataRate
	// DutyCycle is the fraction of time a device may transmit, 0 when unrestricted.
	DutyCycle float64
	// DefaultFrequency is the peer-to-peer default TX frequency in Hz.
	DefaultFrequency uint32
	MaxTxPower       uint8
}

// RegionInfoUS defines the region specific parameters for the US915 band.
var RegionInfoUS = RegionInfo{
	Name:       "US915",
	MaxSubBand: 8,
	// See the LoRaWAN 1.0.3 regional parameters for a table of data rates to SF/BW for each region.
	DataRates: []DataRate{
		{SpreadFactor: lora.SF10, Bandwidth: lora.BW125k, MaxPayload: 11},
		{SpreadFactor: lora.SF9, Bandwidth: lora.BW125k, MaxPayload: 53},
		{SpreadFactor: lora.SF8, Bandwidth: lora.BW125k, MaxPayload: 125},
		{SpreadFactor: lora.SF7, Bandwidth: lora.BW125k, MaxPayload: 242},
		{SpreadFactor: lora.SF8, Bandwidth: lora.BW500k, MaxPayload: 242},
	},
	DefaultFrequency: 915500000,
	MaxTxPower:       30,
}

// RegionInfoEU defines the region specific parameters for the EU868 band.
var RegionInfoEU = RegionInfo{
	Name:       "EU868",
	MaxSubBand: 0,
	DataRates: []DataRate{
		{SpreadFactor: lora.SF12, Bandwidth: lora.BW125k, MaxPayload: 51},
		{SpreadFactor: lora.SF11, Bandwidth: lora.BW125k, MaxPayload: 51},
		{SpreadFactor: lora.SF10, Bandwidth: lora.BW125k, MaxPayload: 51},
		{SpreadFactor: lora.SF9, Bandwidth: lora.BW125k, MaxPayload: 115},
		{SpreadFactor: lora.SF8, Bandwidth: lora.BW125k, MaxPayload: 222},
		{SpreadFactor: lora.SF7, Bandwidth: lora.BW125k, MaxPayload: 222},
	},
	// 1% duty cycle on the g1 sub band.
	DutyCycle:        0.01,
	DefaultFrequency: 869850000,
	MaxTxPower:       16,
}

// GetRegion returns the region.
func GetRegion(region string) Region {
	region = strings.ToUpper(region)
	switch region {
	case "US", "US915", "915":
		return US
	case "EU", "EU868", "868":
		return EU
	default:
		return Unspecified
	}
}

// Info returns the region specific parameters, US915 is used for an unspecified region.
func (r Region) Info() RegionInfo {
	if r == EU {
		return RegionInfoEU
	}
	return RegionInfoUS
}

func (r Region) String() string {
	switch r {
	case US:
		return RegionInfoUS.Name
	case EU:
		return RegionInfoEU.Name
	default:
		return "UNSPECIFIED"
	}
}

// ValidateSubBand checks the frequency sub band can be used in the region.
func (r Region) ValidateSubBand(subBand uint8) error {
	if subBand > r.Info().MaxSubBand {
		return fmt.Errorf("%w: %d not in 0-%d for %s", errInvalidSubBand, subBand, r.Info().MaxSubBand, r)
	}
	return nil
}

// DataRate returns the modulation parameters of a datarate index.
func (r Region) DataRate(dr uint8) (DataRate, error) {
	rates := r.Info().DataRates
	if int(dr) >= len(rates) {
		return DataRate{}, fmt.Errorf("%w: DR%d for %s", errInvalidDataRate, dr, r)
	}
	return rates[dr], nil
}

// DataRateString formats a datarate the way the radio reports it, e.g. "DR0 - SF10BW125".
func (r Region) DataRateString(dr uint8) string {
	rate, err := r.DataRate(dr)
	if err != nil {
		return fmt.Sprintf("DR%d", dr)
	}
	return fmt.Sprintf("DR%d - SF%dBW%d", dr, rate.SpreadFactor, rate.Bandwidth/lora.Kilohertz)
}
