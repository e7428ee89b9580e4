package main

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/viam-modules/lorawan-enddevice/codec"
	"github.com/viam-modules/lorawan-enddevice/config"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func testSession(t *testing.T) config.Session {
	t.Helper()
	cfg := config.Defaults()
	sess, err := cfg.Session()
	test.That(t, err, test.ShouldBeNil)
	return sess
}

func buildUplink(t *testing.T, sess config.Session, fCnt uint32, light []byte) string {
	t.Helper()
	phy, err := codec.BuildUplink(codec.UplinkFrame{
		DevAddr: sess.Address,
		FCnt:    fCnt,
		FPort:   1,
		Payload: light,
		NwkSKey: sess.NwkSKey,
		AppSKey: sess.DataSKey,
	})
	test.That(t, err, test.ShouldBeNil)
	return hex.EncodeToString(phy)
}

func TestDecode(t *testing.T) {
	sess := testSession(t)

	t.Run("first frames", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		full, err := decode(buildUplink(t, sess, 3, []byte{0x12, 0x34}), sess, "", 0, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, full, test.ShouldEqual, uint32(3))
		test.That(t, logs.FilterMessageSnippet("map[light:4660]").Len(), test.ShouldEqual, 1)
	})

	t.Run("counter past 16 bits", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		phy := buildUplink(t, sess, 0x1_0003, []byte{0x00, 0x2A})

		_, err := decode(phy, sess, "", 0, logger)
		test.That(t, err, test.ShouldNotBeNil)

		full, err := decode(phy, sess, "", 0xFFF0, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, full, test.ShouldEqual, uint32(0x1_0003))
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := decode("zz", sess, "", 0, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestMainWithArgsUsage(t *testing.T) {
	logger := logging.NewTestLogger(t)
	err := mainWithArgs(context.Background(), []string{"uplink-decode"}, logger)
	test.That(t, err, test.ShouldBeError, errUsage)

	err = mainWithArgs(context.Background(), []string{"uplink-decode", "-fcnt", "70000"}, logger)
	test.That(t, err, test.ShouldBeError, errUsage)
}
