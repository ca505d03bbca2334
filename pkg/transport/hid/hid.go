// Package hid is a placeholder for USB-HID transport: a Channel
// implementation every method of which returns an unimplemented error.
// Grounded on libwebauthn's hid transport sketch, which is itself a stub
// behind the same Channel contract.
package hid

import (
	"context"
	"errors"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

var errNotImplemented = errors.New("hid transport not implemented")

// Channel is an unimplemented transport.Channel placeholder for USB-HID.
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
