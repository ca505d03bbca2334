// Package cable adapts the caBLE/hybrid QR-pairing tunnel (pkg/qrcode,
// pkg/ble's advertisement scanner, pkg/tunnel's encrypted WebSocket) into a
// transport.Channel, so the webauthn orchestrator can drive a phone-as-
// authenticator session the same way it drives USB-HID or GATT BLE.
// Grounded on libwebauthn's hybrid/cable transport, which carries CTAP2
// only -- there is no APDU framing over a caBLE tunnel.
package cable

import (
	"context"
	"fmt"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
	"ctap-authenticator/pkg/tunnel"
)

// Channel wraps an established tunnel.Connection. The phone is always a
// FIDO2 authenticator over hybrid transport.
type Channel struct {
	conn  *tunnel.Connection
	state transport.Status
}

// New wraps an already-handshaken tunnel connection as a Channel.
func New(conn *tunnel.Connection) *Channel {
	return &Channel{conn: conn, state: transport.Ready}
}

func (c *Channel) SupportedProtocols(ctx context.Context) (fido.SupportedProtocols, error) {
	return fido.SupportedProtocols{FIDO2: true}, nil
}

func (c *Channel) Status() transport.Status { return c.state }

func (c *Channel) Close() error {
	c.state = transport.Closed
	return c.conn.Close()
}

func (c *Channel) ApduSend(ctx context.Context, req *apdu.Request, timeout time.Duration) error {
	return fido.NewProtocolError("cable: transport carries CTAP2 only, no APDU framing")
}

func (c *Channel) ApduRecv(ctx context.Context, timeout time.Duration) (*apdu.Response, error) {
	return nil, fido.NewProtocolError("cable: transport carries CTAP2 only, no APDU framing")
}

func (c *Channel) CborSend(ctx context.Context, req *cbor.Request, timeout time.Duration) error {
	c.state = transport.Busy
	if err := c.conn.WriteMessage(req.Marshal()); err != nil {
		c.state = transport.Ready
		return fmt.Errorf("cable: writing CTAP2 frame: %w", err)
	}
	return nil
}

func (c *Channel) CborRecv(ctx context.Context, timeout time.Duration) (*cbor.Response, error) {
	defer func() { c.state = transport.Ready }()

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := c.conn.ReadMessage()
		done <- result{raw, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("cable: reading CTAP2 frame: %w", r.err)
		}
		return cbor.ParseResponse(r.raw)
	case <-ctx.Done():
		return nil, transport.ErrTimeout
	case <-time.After(timeout):
		return nil, transport.ErrTimeout
	}
}

var _ transport.Channel = (*Channel)(nil)
