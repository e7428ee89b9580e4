package config

import (
	"reflect"
	"strconv"

	envldr "github.com/SENERGY-Platform/go-env-loader"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"github.com/viam-modules/lorawan-enddevice/lowpower"
)

// ChirpstackToken is a network server API token. It is masked when printed.
type ChirpstackToken string

func (t ChirpstackToken) String() string {
	if t == "" {
		return ""
	}
	return "***"
}

// GetTypeParser returns the environment parsers for the config's named types.
func GetTypeParser() map[reflect.Type]envldr.Parser {
	return map[reflect.Type]envldr.Parser{
		reflect.TypeFor[ChirpstackToken]():    chirpstackTokenParser,
		reflect.TypeFor[dot.JoinMode]():       joinModeParser,
		reflect.TypeFor[dot.WakeMode]():       wakeModeParser,
		reflect.TypeFor[dot.Pin]():            pinParser,
		reflect.TypeFor[lowpower.SleepMode](): sleepModeParser,
	}
}

// GetKindParser returns the environment parsers for 8 bit integers, which must fail on overflow.
func GetKindParser() map[reflect.Kind]envldr.Parser {
	return map[reflect.Kind]envldr.Parser{
		reflect.Uint8: uint8Parser,
		reflect.Int8:  int8Parser,
	}
}

func uint8Parser(t reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	v, err := strconv.ParseUint(val, 10, 8)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(uint8(v)).Convert(t).Interface(), nil
}

func int8Parser(t reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	v, err := strconv.ParseInt(val, 10, 8)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(int8(v)).Convert(t).Interface(), nil
}

func chirpstackTokenParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return ChirpstackToken(val), nil
}

func joinModeParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return dot.ParseJoinMode(val)
}

func wakeModeParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return dot.ParseWakeMode(val)
}

func pinParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return dot.ParsePin(val)
}

func sleepModeParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return lowpower.ParseSleepMode(val)
}
