// Package provision registers the end-device and its manual session with a ChirpStack v4 network server.
package provision

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"github.com/viam-modules/lorawan-enddevice/config"
	"github.com/viam-modules/lorawan-enddevice/dot"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const deviceDescription = "xDot ambient light sensor"

var errSessionRequired = errors.New("only manual and peer to peer join modes have a session to provision")

// DeviceClient is the part of the ChirpStack device service used to provision.
type DeviceClient interface {
	Get(ctx context.Context, in *api.GetDeviceRequest, opts ...grpc.CallOption) (*api.GetDeviceResponse, error)
	Create(ctx context.Context, in *api.CreateDeviceRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Update(ctx context.Context, in *api.UpdateDeviceRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Activate(ctx context.Context, in *api.ActivateDeviceRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

// Device is the end-device as the network server knows it.
type Device struct {
	DevEUI        types.EUI64
	Name          string
	ApplicationID string
	ProfileID     string
	Session       config.Session
}

// DeviceFromConfig builds the device to provision from the end-device configuration.
func DeviceFromConfig(cfg config.Config, devEUI types.EUI64, name string) (Device, error) {
	if cfg.JoinMode != dot.Manual && cfg.JoinMode != dot.PeerToPeer {
		return Device{}, errSessionRequired
	}
	sess, err := cfg.Session()
	if err != nil {
		return Device{}, err
	}
	return Device{
		DevEUI:        devEUI,
		Name:          name,
		ApplicationID: cfg.ChirpstackApplicationID,
		ProfileID:     cfg.ChirpstackProfileID,
		Session:       sess,
	}, nil
}

// Client provisions devices over the ChirpStack gRPC API.
type Client struct {
	conn    *grpc.ClientConn
	devices DeviceClient
	logger  logging.Logger
}

// NewClient connects to the network server named in cfg.
func NewClient(cfg config.Config, logger logging.Logger) (*Client, error) {
	if err := cfg.ValidateProvisioning("config"); err != nil {
		return nil, err
	}
	transport := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if cfg.ChirpstackInsecure {
		transport = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	token := bearerToken{token: string(cfg.ChirpstackAPIToken), secure: !cfg.ChirpstackInsecure}

	conn, err := grpc.NewClient(cfg.ChirpstackURL, transport, grpc.WithPerRPCCredentials(token))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, devices: api.NewDeviceServiceClient(conn), logger: logger}, nil
}

// NewClientFromDevices wraps an existing device service client.
func NewClientFromDevices(devices DeviceClient, logger logging.Logger) *Client {
	return &Client{devices: devices, logger: logger}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Provision creates the device, or updates it when it exists, then activates it with the session keys.
// The network session key serves as all three LoRaWAN 1.1 network keys, as 1.0.x devices have one.
func (c *Client) Provision(ctx context.Context, d Device) error {
	devEUI := hex.EncodeToString(d.DevEUI[:])
	device := &api.Device{
		DevEui:          devEUI,
		Name:            d.Name,
		Description:     deviceDescription,
		ApplicationId:   d.ApplicationID,
		DeviceProfileId: d.ProfileID,
	}

	_, err := c.devices.Get(ctx, &api.GetDeviceRequest{DevEui: devEUI})
	switch {
	case status.Code(err) == codes.NotFound:
		c.logger.Infof("creating device %s", devEUI)
		if _, err := c.devices.Create(ctx, &api.CreateDeviceRequest{Device: device}); err != nil {
			return fmt.Errorf("failed to create device %s: %w", devEUI, err)
		}
	case err != nil:
		return fmt.Errorf("failed to get device %s: %w", devEUI, err)
	default:
		c.logger.Infof("updating device %s", devEUI)
		if _, err := c.devices.Update(ctx, &api.UpdateDeviceRequest{Device: device}); err != nil {
			return fmt.Errorf("failed to update device %s: %w", devEUI, err)
		}
	}

	nwkSKey := hex.EncodeToString(d.Session.NwkSKey[:])
	activation := &api.DeviceActivation{
		DevEui:      devEUI,
		DevAddr:     hex.EncodeToString(d.Session.Address[:]),
		AppSKey:     hex.EncodeToString(d.Session.DataSKey[:]),
		NwkSEncKey:  nwkSKey,
		SNwkSIntKey: nwkSKey,
		FNwkSIntKey: nwkSKey,
	}
	c.logger.Infof("activating device %s with dev addr %s", devEUI, activation.DevAddr)
	if _, err := c.devices.Activate(ctx, &api.ActivateDeviceRequest{DeviceActivation: activation}); err != nil {
		return fmt.Errorf("failed to activate device %s: %w", devEUI, err)
	}
	return nil
}

// bearerToken authenticates every call with the API token.
type bearerToken struct {
	token  string
	secure bool
}

func (t bearerToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + t.token}, nil
}

func (t bearerToken) RequireTransportSecurity() bool {
	return t.secure
}
