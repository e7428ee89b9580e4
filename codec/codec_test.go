package codec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/test"
)

var (
	testAddr    = types.DevAddr{0x01, 0x02, 0x03, 0x04}
	testNwkSKey = types.AES128Key{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}
	testAppSKey = types.AES128Key{0xA, 0xB, 0xC, 0xD, 0xA, 0xB, 0xC, 0xD, 0xA, 0xB, 0xC, 0xD, 0xA, 0xB, 0xC, 0xD}
	testAppKey  = types.AES128Key{0x2B, 0x7E, 0x15, 0x16, 0x28, 0xAE, 0xD2, 0xA6, 0xAB, 0xF7, 0x15, 0x88, 0x09, 0xCF, 0x4F, 0x3C}
)

func TestUplinkRoundTrip(t *testing.T) {
	for _, confirmed := range []bool{false, true} {
		phy, err := BuildUplink(UplinkFrame{
			Confirmed: confirmed,
			DevAddr:   testAddr,
			FCnt:      7,
			FPort:     1,
			Payload:   []byte{0x12, 0x34},
			NwkSKey:   testNwkSKey,
			AppSKey:   testAppSKey,
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(phy), test.ShouldEqual, 15)
		// dev addr and frame count are little endian on the air.
		test.That(t, phy[1:5], test.ShouldResemble, []byte{0x04, 0x03, 0x02, 0x01})
		test.That(t, phy[6:8], test.ShouldResemble, []byte{0x07, 0x00})
		test.That(t, phy[8], test.ShouldEqual, byte(1))
		// the payload is encrypted.
		test.That(t, phy[9:11], test.ShouldNotResemble, []byte{0x12, 0x34})

		up, err := ParseUplink(phy)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, up.Confirmed(), test.ShouldEqual, confirmed)
		test.That(t, up.DevAddr, test.ShouldEqual, testAddr)
		test.That(t, up.FCnt, test.ShouldEqual, uint16(7))
		test.That(t, up.FPort, test.ShouldEqual, uint8(1))
		test.That(t, up.FOpts, test.ShouldBeEmpty)

		data, err := DecryptUplink(up, testNwkSKey, testAppSKey)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, []byte{0x12, 0x34})
	}
}

func TestDecryptUplinkRejectsBadMIC(t *testing.T) {
	phy, err := BuildUplink(UplinkFrame{
		DevAddr: testAddr,
		FCnt:    1,
		FPort:   1,
		Payload: []byte{0x00, 0x01},
		NwkSKey: testNwkSKey,
		AppSKey: testAppSKey,
	})
	test.That(t, err, test.ShouldBeNil)

	t.Run("wrong network key", func(t *testing.T) {
		up, err := ParseUplink(phy)
		test.That(t, err, test.ShouldBeNil)
		_, err = DecryptUplink(up, testAppSKey, testAppSKey)
		test.That(t, err, test.ShouldBeError, errInvalidMIC)
	})

	t.Run("tampered payload", func(t *testing.T) {
		tampered := append([]byte(nil), phy...)
		tampered[9] ^= 0xFF
		up, err := ParseUplink(tampered)
		test.That(t, err, test.ShouldBeNil)
		_, err = DecryptUplink(up, testNwkSKey, testAppSKey)
		test.That(t, err, test.ShouldBeError, errInvalidMIC)
	})
}

func TestDecryptUplinkPastCounterRollover(t *testing.T) {
	const fCnt = 0x1_0005
	phy, err := BuildUplink(UplinkFrame{
		DevAddr: testAddr,
		FCnt:    fCnt,
		FPort:   1,
		Payload: []byte{0x00, 0x2A},
		NwkSKey: testNwkSKey,
		AppSKey: testAppSKey,
	})
	test.That(t, err, test.ShouldBeNil)
	up, err := ParseUplink(phy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, up.FCnt, test.ShouldEqual, uint16(5))

	// the low 16 bits alone give the wrong MIC.
	_, err = DecryptUplink(up, testNwkSKey, testAppSKey)
	test.That(t, err, test.ShouldBeError, errInvalidMIC)

	full := FullFCnt(up.FCnt, 0xFFF0)
	test.That(t, full, test.ShouldEqual, uint32(fCnt))
	data, err := DecryptUplinkFCnt(up, full, testNwkSKey, testAppSKey)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0x00, 0x2A})

	_, err = DecryptUplinkFCnt(up, fCnt+1, testNwkSKey, testAppSKey)
	test.That(t, errors.Is(err, errFCntMismatch), test.ShouldBeTrue)
}

func TestFullFCnt(t *testing.T) {
	test.That(t, FullFCnt(7, 0), test.ShouldEqual, uint32(7))
	test.That(t, FullFCnt(7, 7), test.ShouldEqual, uint32(7))
	test.That(t, FullFCnt(0x0001, 0x1_FFFF), test.ShouldEqual, uint32(0x2_0001))
	test.That(t, FullFCnt(0xFFFF, 0x1_0000), test.ShouldEqual, uint32(0x1_FFFF))
}

func TestParseUplinkErrors(t *testing.T) {
	tests := []struct {
		name string
		phy  []byte
	}{
		{name: "too short", phy: []byte{0x40, 1, 2, 3}},
		{name: "join request", phy: make([]byte, 23)},
		{name: "fopts past mic", phy: []byte{0x40, 4, 3, 2, 1, 0x0F, 0, 0, 0, 0, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseUplink(tc.phy)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestParseUplinkWithoutPort(t *testing.T) {
	up, err := ParseUplink([]byte{0x40, 4, 3, 2, 1, 0x00, 2, 0, 0xA, 0xB, 0xC, 0xD})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, up.FPort, test.ShouldEqual, uint8(0))
	test.That(t, up.FRMPayload, test.ShouldBeEmpty)
	test.That(t, up.FCnt, test.ShouldEqual, uint16(2))
}

func TestJoinRequest(t *testing.T) {
	jr := JoinRequest{
		JoinEUI:  types.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		DevEUI:   types.EUI64{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF},
		DevNonce: types.DevNonce{0x00, 0x2A},
	}
	payload, err := BuildJoinRequest(testAppKey, jr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(payload), test.ShouldEqual, 23)
	test.That(t, payload[0], test.ShouldEqual, byte(JoinRequestMHdr))
	test.That(t, payload[1:9], test.ShouldResemble, []byte{8, 7, 6, 5, 4, 3, 2, 1})
	test.That(t, payload[17:19], test.ShouldResemble, []byte{0x2A, 0x00})

	parsed, err := ParseJoinRequest(testAppKey, payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldResemble, jr)

	_, err = ParseJoinRequest(testNwkSKey, payload)
	test.That(t, err, test.ShouldBeError, errInvalidMIC)

	_, err = ParseJoinRequest(testAppKey, payload[:22])
	test.That(t, err, test.ShouldBeError, errInvalidLength)
}

func TestDeriveSessionKeys(t *testing.T) {
	ctx := context.Background()
	jr := JoinRequest{DevEUI: types.EUI64{1}, DevNonce: types.DevNonce{0, 1}}
	jn := types.JoinNonce{0, 0, 1}
	netID := types.NetID{0, 0, 1}

	keys, err := DeriveSessionKeys(ctx, testAppKey, jr, jn, netID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, keys.AppSKey, test.ShouldNotEqual, keys.NwkSKey)
	test.That(t, keys.AppSKey, test.ShouldNotEqual, types.AES128Key{})

	again, err := DeriveSessionKeys(ctx, testAppKey, jr, jn, netID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, keys)

	// a new dev nonce gives new keys.
	jr.DevNonce = types.DevNonce{0, 2}
	other, err := DeriveSessionKeys(ctx, testAppKey, jr, jn, netID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.AppSKey, test.ShouldNotEqual, keys.AppSKey)
}

func TestDecode(t *testing.T) {
	script, err := LightDecoder()
	test.That(t, err, test.ShouldBeNil)

	out, err := Decode(1, script, []byte{0x12, 0x34})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fmt.Sprint(out["light"]), test.ShouldEqual, "4660")

	out, err = Decode(2, script, []byte{0x12, 0x34})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeEmpty)

	_, err = Decode(1, "function Decode(fPort, bytes) { return 5; }", []byte{1})
	test.That(t, err, test.ShouldBeError, errUnexpectedType)

	_, err = Decode(1, "function Decode(fPort, bytes) { while (true) {} }", []byte{1})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Decode(1, "function Decode(fPort, bytes) {", []byte{1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeFile(t *testing.T) {
	out, err := DecodeFile(1, "", []byte{0x00, 0x2A})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fmt.Sprint(out["light"]), test.ShouldEqual, "42")

	path := filepath.Join(t.TempDir(), "decoder.js")
	script := "function Decode(fPort, bytes) { return {\"port\": fPort, \"len\": bytes.length}; }"
	test.That(t, os.WriteFile(path, []byte(script), 0o600), test.ShouldBeNil)
	out, err = DecodeFile(3, path, []byte{1, 2, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fmt.Sprint(out["port"]), test.ShouldEqual, "3")
	test.That(t, fmt.Sprint(out["len"]), test.ShouldEqual, "3")

	_, err = DecodeFile(1, filepath.Join(t.TempDir(), "missing.js"), nil)
	test.That(t, err, test.ShouldNotBeNil)
}
