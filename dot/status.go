package dot

import (
	"errors"
	"fmt"
)

// Status is a radio status code.
type Status int

// Radio status codes.
const (
	OK                  Status = 0
	InvalidParam        Status = -1
	TxError             Status = -2
	RxError             Status = -3
	JoinError           Status = -4
	Timeout             Status = -5
	NotJoined           Status = -6
	EncryptionDisabled  Status = -7
	NoFreeChan          Status = -8
	TestMode            Status = -9
	NoEnabledChan       Status = -10
	AggregatedDutyCycle Status = -11
	MaxPayloadExceeded  Status = -12
	LBTChannelBusy      Status = -13
	NotIdle             Status = -14
	Error               Status = -1024
)

var statusNames = map[Status]string{
	OK:                  "MDOT_OK",
	InvalidParam:        "MDOT_INVALID_PARAM",
	TxError:             "MDOT_TX_ERROR",
	RxError:             "MDOT_RX_ERROR",
	JoinError:           "MDOT_JOIN_ERROR",
	Timeout:             "MDOT_TIMEOUT",
	NotJoined:           "MDOT_NOT_JOINED",
	EncryptionDisabled:  "MDOT_ENCRYPTION_DISABLED",
	NoFreeChan:          "MDOT_NO_FREE_CHAN",
	TestMode:            "MDOT_TEST_MODE",
	NoEnabledChan:       "MDOT_NO_ENABLED_CHAN",
	AggregatedDutyCycle: "MDOT_AGGREGATED_DUTY_CYCLE",
	MaxPayloadExceeded:  "MDOT_MAX_PAYLOAD_EXCEEDED",
	LBTChannelBusy:      "MDOT_LBT_CHANNEL_BUSY",
	NotIdle:             "MDOT_NOT_IDLE",
	Error:               "MDOT_ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// StatusError is a non-OK status reported by the radio.
type StatusError struct {
	Status Status
	// Op is the radio call that failed, e.g. "join" or "set network address".
	Op string
}

func (e *StatusError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%d:%s", int(e.Status), e.Status)
	}
	return fmt.Sprintf("%s: %d:%s", e.Op, int(e.Status), e.Status)
}

// NewStatusError wraps a status code, OK returns nil.
func NewStatusError(op string, s Status) error {
	if s == OK {
		return nil
	}
	return &StatusError{Status: s, Op: op}
}

// StatusOf returns the radio status carried by err.
// Errors that did not come from the radio map to Error, nil maps to OK.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return Error
}
