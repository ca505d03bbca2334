// Package nfc is a placeholder for NFC transport, mirroring
// libwebauthn/transport/nfc/channel.rs's own todo!() bodies.
package nfc

import (
	"context"
	"errors"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

var errNotImplemented = errors.New("nfc transport not implemented")

// Device identifies an NFC tag without holding a live connection to it --
// unlike BLE or caBLE, an NFC authenticator is only reachable while it sits
// on the reader, so there is nothing to keep a handle on between taps.
type Device struct {
	UID string
}

func (d Device) String() string { return d.UID }

// Channel is an unimplemented transport.Channel placeholder for NFC.
type Channel struct{}

func (Channel) SupportedProtocols(ctx context.Context) (fido.SupportedProtocols, error) {
	return fido.SupportedProtocols{}, errNotImplemented
}
func (Channel) Status() transport.Status { return transport.Closed }
func (Channel) Close() error             { return nil }
func (Channel) ApduSend(ctx context.Context, req *apdu.Request, timeout time.Duration) error {
	return errNotImplemented
}
func (Channel) ApduRecv(ctx context.Context, timeout time.Duration) (*apdu.Response, error) {
	return nil, errNotImplemented
}
func (Channel) CborSend(ctx context.Context, req *cbor.Request, timeout time.Duration) error {
	return errNotImplemented
}
func (Channel) CborRecv(ctx context.Context, timeout time.Duration) (*cbor.Response, error) {
	return nil, errNotImplemented
}

var _ transport.Channel = Channel{}
