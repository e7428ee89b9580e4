package codec

import (
	"bytes"
	"context"
	"fmt"

	"go.thethings.network/lorawan-stack/v3/pkg/crypto"
	"go.thethings.network/lorawan-stack/v3/pkg/crypto/cryptoservices"
	"go.thethings.network/lorawan-stack/v3/pkg/ttnpb"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

// JoinRequest holds the fields of an OTAA join request, all big endian.
type JoinRequest struct {
	JoinEUI  types.EUI64
	DevEUI   types.EUI64
	DevNonce types.DevNonce
}

// SessionKeys are the keys derived from a join.
type SessionKeys struct {
	AppSKey types.AES128Key
	NwkSKey types.AES128Key
}

// BuildJoinRequest returns the join request PHYPayload signed with appKey.
// | MHDR | JOIN EUI | DEV EUI  |   DEV NONCE  | MIC   |
// | 1 B  |   8 B    |    8 B   |     2 B      |  4 B  |
func BuildJoinRequest(appKey types.AES128Key, jr JoinRequest) ([]byte, error) {
	payload := make([]byte, 0, joinRequestLength)
	payload = append(payload, JoinRequestMHdr)
	// everything in the join request payload is little endian
	payload = append(payload, reverseByteArray(jr.JoinEUI[:])...)
	payload = append(payload, reverseByteArray(jr.DevEUI[:])...)
	payload = append(payload, reverseByteArray(jr.DevNonce[:])...)

	mic, err := crypto.ComputeJoinRequestMIC(appKey, payload)
	if err != nil {
		return nil, err
	}
	return append(payload, mic[:]...), nil
}

// ParseJoinRequest validates the MIC of a join request and returns its fields.
func ParseJoinRequest(appKey types.AES128Key, payload []byte) (JoinRequest, error) {
	// join request should always contain 23 bytes, if not something went wrong.
	if len(payload) != joinRequestLength || payload[0] != JoinRequestMHdr {
		return JoinRequest{}, errInvalidLength
	}

	mic, err := crypto.ComputeJoinRequestMIC(appKey, payload[:joinRequestMICStart])
	if err != nil {
		return JoinRequest{}, err
	}
	if !bytes.Equal(payload[joinRequestMICStart:], mic[:]) {
		return JoinRequest{}, errInvalidMIC
	}

	var jr JoinRequest
	copy(jr.JoinEUI[:], reverseByteArray(payload[1:9]))
	copy(jr.DevEUI[:], reverseByteArray(payload[9:17]))
	copy(jr.DevNonce[:], reverseByteArray(payload[17:19]))
	return jr, nil
}

// DeriveSessionKeys derives the LoRaWAN 1.0.3 session keys for an accepted join.
// all inputs here are big endian.
func DeriveSessionKeys(
	ctx context.Context,
	appKey types.AES128Key,
	jr JoinRequest,
	joinNonce types.JoinNonce,
	netID types.NetID,
) (SessionKeys, error) {
	cryptoDev := &ttnpb.EndDevice{
		Ids: &ttnpb.EndDeviceIdentifiers{JoinEui: jr.JoinEUI[:], DevEui: jr.DevEUI[:]},
	}
	applicationCryptoService := cryptoservices.NewMemory(nil, &appKey)

	appSKey, err := applicationCryptoService.DeriveAppSKey(
		ctx,
		cryptoDev,
		ttnpb.MACVersion_MAC_V1_0_3,
		joinNonce,
		jr.DevNonce,
		netID,
	)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("failed to generate AppSKey: %w", err)
	}

	return SessionKeys{
		AppSKey: appSKey,
		NwkSKey: crypto.DeriveLegacyNwkSKey(appKey, joinNonce, netID, jr.DevNonce),
	}, nil
}
