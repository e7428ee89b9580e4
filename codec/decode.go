package codec

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robertkrimen/otto"
)

const (
	lightDecoderFileName = "light_decoder.js"
	scriptTimeout        = 10 * time.Millisecond
	scriptStackDepth     = 32
)

var (
	//go:embed light_decoder.js
	lightDecoderFile embed.FS

	errUnexpectedType   = errors.New("codec returned unexpected data type")
	errExecutionTimeout = errors.New("execution timeout")
)

// LightDecoder returns the embedded decoder for the light sensor payload.
func LightDecoder() (string, error) {
	script, err := lightDecoderFile.ReadFile(lightDecoderFileName)
	if err != nil {
		return "", err
	}
	return string(script), nil
}

// DecodeFile runs the Decode function of the script at path. An empty path uses the light decoder.
func DecodeFile(fPort uint8, path string, data []byte) (map[string]interface{}, error) {
	if path == "" {
		script, err := LightDecoder()
		if err != nil {
			return nil, err
		}
		return Decode(fPort, script, data)
	}

	script, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read decoder: %w", err)
	}
	return Decode(fPort, string(script), data)
}

// Decode runs a ChirpStack style Decode(fPort, bytes) function and returns the object it produces.
func Decode(fPort uint8, decodeScript string, b []byte) (map[string]interface{}, error) {
	decodeScript += "\n\nDecode(fPort, bytes);\n"

	vars := map[string]interface{}{
		"fPort": fPort,
		"bytes": b,
	}

	v, err := executeJS(decodeScript, vars)
	if err != nil {
		return nil, err
	}

	readings, ok := v.(map[string]interface{})
	if !ok {
		return nil, errUnexpectedType
	}
	return readings, nil
}

func executeJS(script string, vars map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("%s", caught)
		}
	}()

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	vm.SetStackDepthLimit(scriptStackDepth)

	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(scriptTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt <- func() {
				panic(errExecutionTimeout)
			}
		case <-done:
		}
	}()

	val, err := vm.Run(script)
	if err != nil {
		return nil, err
	}

	return val.Export()
}
