package dotsim

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
)

// Frame is one transmission.
type Frame struct {
	PHYPayload []byte
	Frequency  uint32
	DataRate   string
	TxPower    uint8
	Airtime    time.Duration
}

// Transmitter puts frames on the air.
type Transmitter interface {
	Transmit(ctx context.Context, f Frame) error
}

// LogTransmitter logs every frame instead of transmitting it.
type LogTransmitter struct {
	logger logging.Logger
}

// NewLogTransmitter returns a transmitter logging to logger.
func NewLogTransmitter(logger logging.Logger) *LogTransmitter {
	return &LogTransmitter{logger: logger}
}

// Transmit logs the frame.
func (t *LogTransmitter) Transmit(ctx context.Context, f Frame) error {
	t.logger.Infof("tx %d Hz %s %d dBm airtime %s: %X", f.Frequency, f.DataRate, f.TxPower, f.Airtime, f.PHYPayload)
	return nil
}
