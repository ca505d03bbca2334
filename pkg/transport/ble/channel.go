package ble

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

// defaultMTU is used until fidoControlPointLength has been read from the
// device; 20 is the minimum BLE ATT MTU and always safe.
const defaultMTU = 20

// controlPoint is the slice of bluetooth.DeviceCharacteristic that Channel
// actually calls. Narrowing to this interface lets tests exercise send/recv/
// cancel against a fake without a live adapter or device.
type controlPoint interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// Channel is a transport.Channel backed by the FIDO2 GATT service. It owns
// one connected bluetooth.Device for its lifetime; SupportedProtocols,
// ApduSend/Recv, and CborSend/Recv all multiplex over the same
// fidoControlPoint/fidoStatus pair, serialized by spec.md's single-flight
// Channel contract.
type Channel struct {
	device       bluetooth.Device
	control      controlPoint
	status       bluetooth.DeviceCharacteristic
	revisionChar bluetooth.DeviceCharacteristic

	mtu   int
	state transport.Status

	notify chan []byte
}

// Dial connects to addr, discovers the FIDO2 GATT service, subscribes to
// fidoStatus notifications, and reads fidoControlPointLength for the
// negotiated MTU.
func Dial(adapter *bluetooth.Adapter, addr bluetooth.Address) (*Channel, error) {
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connecting: %w", err)
	}

	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parsing service UUID: %w", err)
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("ble: discovering FIDO service: %w", err)
	}
	if len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("ble: device does not expose the FIDO2 GATT service")
	}

	controlUUID, _ := bluetooth.ParseUUID(CharControlPointUUID)
	statusUUID, _ := bluetooth.ParseUUID(CharStatusUUID)
	lengthUUID, _ := bluetooth.ParseUUID(CharControlPointLengthUUID)
	revisionUUID, _ := bluetooth.ParseUUID(CharServiceRevisionBitfield)

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{controlUUID, statusUUID, lengthUUID, revisionUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("ble: discovering characteristics: %w", err)
	}

	ch := &Channel{
		device: device,
		mtu:    defaultMTU,
		state:  transport.Ready,
		notify: make(chan []byte, 8),
	}
	var haveControl, haveStatus, haveRevision bool
	for _, c := range chars {
		switch c.UUID() {
		case controlUUID:
			ch.control = c
			haveControl = true
		case statusUUID:
			ch.status = c
			haveStatus = true
			if err := c.EnableNotifications(ch.onNotify); err != nil {
				device.Disconnect()
				return nil, fmt.Errorf("ble: enabling fidoStatus notifications: %w", err)
			}
		case lengthUUID:
			buf := make([]byte, 2)
			if n, err := c.Read(buf); err == nil && n == 2 {
				ch.mtu = int(buf[0])<<8 | int(buf[1])
			}
		case revisionUUID:
			ch.revisionChar = c
			haveRevision = true
		}
	}
	if !haveControl || !haveStatus {
		device.Disconnect()
		return nil, fmt.Errorf("ble: device is missing fidoControlPoint or fidoStatus")
	}

	if haveRevision {
		if err := ch.negotiateRevision(); err != nil {
			device.Disconnect()
			return nil, err
		}
	}

	return ch, nil
}

// negotiateRevision reads the device's supported-revisions bitfield and
// writes back the highest bit both sides support (spec.md's Open Question
// resolution: prefer the newest mutually supported revision over the
// lowest common denominator).
func (c *Channel) negotiateRevision() error {
	buf := make([]byte, 1)
	n, err := c.revisionChar.Read(buf)
	if err != nil || n != 1 {
		return nil
	}
	supported := buf[0]
	var chosen byte
	for _, bit := range []byte{RevisionBitFIDO2, RevisionBitU2Fv12, RevisionBitU2Fv11} {
		if supported&bit != 0 {
			chosen = bit
			break
		}
	}
	if chosen == 0 {
		return fmt.Errorf("ble: device advertises no supported service revision")
	}
	_, err = c.revisionChar.WriteWithoutResponse([]byte{chosen})
	return err
}

func (c *Channel) onNotify(buf []byte) {
	frame := append([]byte(nil), buf...)
	select {
	case c.notify <- frame:
	default:
	}
}

func (c *Channel) Status() transport.Status { return c.state }

func (c *Channel) Close() error {
	c.state = transport.Closed
	return c.device.Disconnect()
}

// SupportedProtocols reports FIDO2 unconditionally: a device exposing this
// GATT service by definition speaks CTAP2 MSG framing. U2F-over-BLE is not
// part of the FIDO2 GATT profile, so u2f is always false here.
func (c *Channel) SupportedProtocols(ctx context.Context) (fido.SupportedProtocols, error) {
	return fido.SupportedProtocols{FIDO2: true}, nil
}

func (c *Channel) send(ctx context.Context, payload []byte, timeout time.Duration) error {
	if c.state == transport.Closed {
		return fmt.Errorf("ble: channel is closed")
	}
	c.state = transport.Busy

	frames, err := Fragment(CmdMsg, payload, c.mtu)
	if err != nil {
		c.state = transport.Ready
		return fmt.Errorf("ble: fragmenting message: %w", err)
	}
	for _, f := range frames {
		if ctx.Err() != nil {
			c.cancel()
			c.state = transport.Ready
			return ctx.Err()
		}
		if _, err := c.control.WriteWithoutResponse(f); err != nil {
			c.state = transport.Ready
			return fmt.Errorf("ble: writing control point: %w", err)
		}
	}
	return nil
}

// recv reassembles one MSG response, resetting the inactivity timer (but
// not the deadline carried by ctx) on every KEEPALIVE per spec.md §5.
func (c *Channel) recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var r Reassembler

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.cancel()
			c.state = transport.Ready
			return nil, fmt.Errorf("ble: %w", transport.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			c.cancel()
			c.state = transport.Ready
			return nil, ctx.Err()
		case frame := <-c.notify:
			if len(frame) == 0 {
				continue
			}
			if frame[0] == CmdKeepAlive {
				deadline = time.Now().Add(timeout)
				continue
			}
			if frame[0] == CmdError {
				c.state = transport.Ready
				code := byte(0)
				if len(frame) > 1 {
					code = frame[len(frame)-1]
				}
				return nil, fmt.Errorf("ble: authenticator returned ERROR code 0x%02x", code)
			}
			done, err := r.Feed(frame)
			if err != nil {
				c.state = transport.Ready
				return nil, fmt.Errorf("ble: reassembling response: %w", err)
			}
			if done {
				c.state = transport.Ready
				return append([]byte(nil), r.Payload()...), nil
			}
		case <-time.After(remaining):
			c.cancel()
			c.state = transport.Ready
			return nil, fmt.Errorf("ble: %w", transport.ErrTimeout)
		}
	}
}

// cancel writes a CANCEL initialization frame, the BLE equivalent of the
// orchestrator's deadline-expiry cancellation (spec.md §5).
func (c *Channel) cancel() {
	frames, err := Fragment(CmdCancel, nil, c.mtu)
	if err != nil {
		return
	}
	for _, f := range frames {
		c.control.WriteWithoutResponse(f)
	}
}

func (c *Channel) ApduSend(ctx context.Context, req *apdu.Request, timeout time.Duration) error {
	return c.send(ctx, req.Marshal(), timeout)
}

func (c *Channel) ApduRecv(ctx context.Context, timeout time.Duration) (*apdu.Response, error) {
	raw, err := c.recv(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return apdu.ParseResponse(raw)
}

func (c *Channel) CborSend(ctx context.Context, req *cbor.Request, timeout time.Duration) error {
	return c.send(ctx, req.Marshal(), timeout)
}

func (c *Channel) CborRecv(ctx context.Context, timeout time.Duration) (*cbor.Response, error) {
	raw, err := c.recv(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return cbor.ParseResponse(raw)
}

var _ transport.Channel = (*Channel)(nil)
