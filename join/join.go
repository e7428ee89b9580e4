// Package join joins the radio to the network, retrying until it succeeds.
package join

import (
	"context"
	"sync"
	"time"

	"github.com/viam-modules/lorawan-enddevice/dot"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// State is the join progress.
type State int

const (
	// Idle means no join has been attempted.
	Idle State = iota
	// Attempting means a join is in progress or waiting for a free channel.
	Attempting
	// Joined means the radio accepted a join.
	Joined
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Joined:
		return "joined"
	default:
		return "idle"
	}
}

// Radio is the part of the radio the sequencer drives.
type Radio interface {
	Join(ctx context.Context) error
	NextTxDelay() time.Duration
	Sleep(ctx context.Context, interval time.Duration, mode dot.WakeMode, deep bool) error
}

// Waiter blocks for d, returning false if ctx ended first.
type Waiter func(ctx context.Context, d time.Duration) bool

// Sequencer retries joins with no attempt cap, waiting out the duty cycle between attempts.
type Sequencer struct {
	radio  Radio
	wait   Waiter
	logger logging.Logger

	mu       sync.Mutex
	state    State
	attempts int
}

// NewSequencer returns a sequencer, a nil wait uses utils.SelectContextOrWait.
func NewSequencer(radio Radio, wait Waiter, logger logging.Logger) *Sequencer {
	if wait == nil {
		wait = utils.SelectContextOrWait
	}
	return &Sequencer{radio: radio, wait: wait, logger: logger}
}

// State returns the current join state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of join attempts made.
func (s *Sequencer) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Sequencer) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Run attempts joins until one succeeds. It only returns early with ctx's error.
func (s *Sequencer) Run(ctx context.Context) error {
	s.setState(Attempting)
	for {
		if err := ctx.Err(); err != nil {
			s.setState(Idle)
			return err
		}

		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.logger.Infof("attempt %d to join network", attempt)
		err := s.radio.Join(ctx)
		if err == nil {
			s.setState(Joined)
			return nil
		}
		status := dot.StatusOf(err)
		s.logger.Errorf("failed to join network %d:%s", int(status), status)

		if err := s.backoff(ctx); err != nil {
			s.setState(Idle)
			return err
		}
	}
}

// backoff waits until another channel is free, which some frequency bands need before transmitting again.
func (s *Sequencer) backoff(ctx context.Context) error {
	delay := Delay(s.radio.NextTxDelay())
	if delay < 2*time.Second {
		s.logger.Infof("waiting %d s until next free channel", int(delay.Seconds()))
		if !s.wait(ctx, delay) {
			return ctx.Err()
		}
		return nil
	}

	s.logger.Infof("sleeping %d s until next free channel", int(delay.Seconds()))
	if err := s.radio.Sleep(ctx, delay, dot.RTCAlarm, false); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnf("sleep before next join attempt failed: %v", err)
	}
	return nil
}

// Delay is the whole seconds of nextTx plus one second.
func Delay(nextTx time.Duration) time.Duration {
	return (nextTx/time.Second + 1) * time.Second
}
