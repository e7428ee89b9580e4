// Package codec builds, parses and decodes LoRaWAN 1.0.x frames sent by the end-device.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"go.thethings.network/lorawan-stack/v3/pkg/crypto"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

// MHDR values for the message types the end-device sends.
const (
	JoinRequestMHdr   = 0x00
	UnconfirmedUpMHdr = 0x40
	ConfirmedUpMHdr   = 0x80
)

const (
	minUplinkLength     = 12
	maxFOptsLength      = 15
	mTypeMask           = 0xE0
	fOptsLengthMask     = 0x0F
	joinRequestLength   = 23
	joinRequestMICStart = 19
)

var (
	errInvalidLength = errors.New("invalid payload length")
	errInvalidMIC    = errors.New("invalid MIC")
	errNotDataUplink = errors.New("not a data uplink")
	errFOptsLength   = errors.New("FOpts longer than 15 bytes")
	errFCntMismatch  = errors.New("frame counter does not match the uplink")
)

// Uplink is a parsed data-up frame. FRMPayload is still encrypted.
type Uplink struct {
	MHDR       byte
	DevAddr    types.DevAddr
	FCtrl      byte
	FCnt       uint16
	FOpts      []byte
	FPort      uint8
	FRMPayload []byte
	MIC        [4]byte
	// raw is everything covered by the MIC.
	raw []byte
}

// Confirmed reports whether the device asked for an acknowledgement.
func (u *Uplink) Confirmed() bool {
	return u.MHDR&mTypeMask == ConfirmedUpMHdr
}

// UplinkFrame holds what goes into a data-up frame.
type UplinkFrame struct {
	Confirmed bool
	DevAddr   types.DevAddr
	FCnt      uint32
	FPort     uint8
	Payload   []byte
	NwkSKey   types.AES128Key
	AppSKey   types.AES128Key
}

// BuildUplink encrypts the payload and returns the PHYPayload.
// Structure of phyPayload:
// | MHDR | DEV ADDR|  FCTL |   FCnt  | FPort   |  FRM Payload | MIC |
// | 1 B  |   4 B    | 1 B   |  2 B   |   1 B   |  variable   | 4B  |
func BuildUplink(f UplinkFrame) ([]byte, error) {
	enc, err := crypto.EncryptUplink(f.AppSKey, f.DevAddr, f.FCnt, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt uplink: %w", err)
	}

	mhdr := byte(UnconfirmedUpMHdr)
	if f.Confirmed {
		mhdr = ConfirmedUpMHdr
	}

	phy := make([]byte, 0, minUplinkLength+1+len(enc))
	phy = append(phy, mhdr)
	// everything on the air is little endian.
	phy = append(phy, reverseByteArray(f.DevAddr[:])...)
	// no ADR, no ACK, no FOpts.
	phy = append(phy, 0x00)
	phy = binary.LittleEndian.AppendUint16(phy, uint16(f.FCnt))
	phy = append(phy, f.FPort)
	phy = append(phy, enc...)

	mic, err := crypto.ComputeLegacyUplinkMIC(f.NwkSKey, f.DevAddr, f.FCnt, phy)
	if err != nil {
		return nil, fmt.Errorf("failed to compute uplink MIC: %w", err)
	}
	return append(phy, mic[:]...), nil
}

// ParseUplink splits a data-up PHYPayload into its fields.
func ParseUplink(phy []byte) (*Uplink, error) {
	if len(phy) < minUplinkLength {
		return nil, fmt.Errorf("%w: %d bytes", errInvalidLength, len(phy))
	}
	mType := phy[0] & mTypeMask
	if mType != UnconfirmedUpMHdr && mType != ConfirmedUpMHdr {
		return nil, fmt.Errorf("%w: MHDR 0x%02X", errNotDataUplink, phy[0])
	}

	u := &Uplink{MHDR: phy[0]}
	// devAddr is bytes one to five - little endian
	copy(u.DevAddr[:], reverseByteArray(phy[1:5]))

	// the last 4 bits of the frame control is the fopts length
	u.FCtrl = phy[5]
	foptsLength := int(u.FCtrl & fOptsLengthMask)
	if foptsLength > maxFOptsLength {
		return nil, errFOptsLength
	}

	u.FCnt = binary.LittleEndian.Uint16(phy[6:8])

	micStart := len(phy) - 4
	if 8+foptsLength > micStart {
		return nil, fmt.Errorf("%w: FOpts overrun the MIC", errInvalidLength)
	}
	u.FOpts = phy[8 : 8+foptsLength]

	// a frame with no port carries no payload.
	if 8+foptsLength < micStart {
		u.FPort = phy[8+foptsLength]
		u.FRMPayload = phy[8+foptsLength+1 : micStart]
	}
	copy(u.MIC[:], phy[micStart:])
	u.raw = phy[:micStart]
	return u, nil
}

// FullFCnt rebuilds the 32 bit frame counter from the 16 bits on the air.
// It returns the lowest counter at or after expected with those low bits.
func FullFCnt(wire uint16, expected uint32) uint32 {
	full := expected&^0xFFFF | uint32(wire)
	if full < expected {
		full += 1 << 16
	}
	return full
}

// DecryptUplink checks the MIC with the network session key and decrypts the FRMPayload with the data session key.
// The frame counter is taken to be below 65536; use DecryptUplinkFCnt past that.
func DecryptUplink(u *Uplink, nwkSKey, appSKey types.AES128Key) ([]byte, error) {
	return DecryptUplinkFCnt(u, uint32(u.FCnt), nwkSKey, appSKey)
}

// DecryptUplinkFCnt is DecryptUplink with the full 32 bit frame counter, see FullFCnt.
func DecryptUplinkFCnt(u *Uplink, fCnt uint32, nwkSKey, appSKey types.AES128Key) ([]byte, error) {
	if uint16(fCnt) != u.FCnt {
		return nil, fmt.Errorf("%w: %d is not %d on the air", errFCntMismatch, fCnt, u.FCnt)
	}
	mic, err := crypto.ComputeLegacyUplinkMIC(nwkSKey, u.DevAddr, fCnt, u.raw)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(mic[:], u.MIC[:]) {
		return nil, errInvalidMIC
	}

	decrypted, err := crypto.DecryptUplink(appSKey, u.DevAddr, fCnt, u.FRMPayload)
	if err != nil {
		return nil, fmt.Errorf("error while decrypting uplink message: %w", err)
	}
	return decrypted, nil
}

// reverseByteArray creates a new array reversed of the input.
// Used to convert little endian fields to big endian and vice versa.
func reverseByteArray(arr []byte) []byte {
	reversed := make([]byte, len(arr))

	for i, j := 0, len(arr)-1; i < len(arr); i, j = i+1, j-1 {
		reversed[i] = arr[j]
	}
	return reversed
}
