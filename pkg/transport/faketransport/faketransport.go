// Package faketransport provides an in-memory transport.Channel driven by a
// scripted sequence of responses, used to exercise the orchestrator and
// CTAP1/CTAP2 operation packages without real hardware (spec.md §8's
// testable properties are meant to be checked this way).
package faketransport

import (
	"context"
	"fmt"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

// Channel replays CborResponses/ApduResponses in order, one per matching
// Send/Recv pair, and records every request it was sent for assertions.
//
// CborFunc, when set, takes priority over CborResponses and is invoked with
// each sent request in turn -- this lets a test compute a response that
// depends on what the platform actually sent, such as encrypting a
// pinUvAuthToken under the shared secret negotiated from the platform's own
// ephemeral public key.
type Channel struct {
	Protocols fido.SupportedProtocols

	CborResponses [][]byte
	ApduResponses [][]byte
	CborFunc      func(req *cbor.Request) []byte

	CborRequests []*cbor.Request
	ApduRequests []*apdu.Request

	cborIdx, apduIdx int
	state            transport.Status
}

func New(protocols fido.SupportedProtocols) *Channel {
	return &Channel{Protocols: protocols, state: transport.Ready}
}

func (c *Channel) SupportedProtocols(ctx context.Context) (fido.SupportedProtocols, error) {
	return c.Protocols, nil
}

func (c *Channel) Status() transport.Status { return c.state }

func (c *Channel) Close() error {
	c.state = transport.Closed
	return nil
}

func (c *Channel) ApduSend(ctx context.Context, req *apdu.Request, timeout time.Duration) error {
	c.state = transport.Busy
	c.ApduRequests = append(c.ApduRequests, req)
	return nil
}

func (c *Channel) ApduRecv(ctx context.Context, timeout time.Duration) (*apdu.Response, error) {
	defer func() { c.state = transport.Ready }()
	if c.apduIdx >= len(c.ApduResponses) {
		return nil, fmt.Errorf("faketransport: no scripted APDU response for call %d", c.apduIdx)
	}
	raw := c.ApduResponses[c.apduIdx]
	c.apduIdx++
	return apdu.ParseResponse(raw)
}

func (c *Channel) CborSend(ctx context.Context, req *cbor.Request, timeout time.Duration) error {
	c.state = transport.Busy
	c.CborRequests = append(c.CborRequests, req)
	return nil
}

func (c *Channel) CborRecv(ctx context.Context, timeout time.Duration) (*cbor.Response, error) {
	defer func() { c.state = transport.Ready }()
	if c.CborFunc != nil {
		req := c.CborRequests[len(c.CborRequests)-1]
		return cbor.ParseResponse(c.CborFunc(req))
	}
	if c.cborIdx >= len(c.CborResponses) {
		return nil, fmt.Errorf("faketransport: no scripted CBOR response for call %d", c.cborIdx)
	}
	raw := c.CborResponses[c.cborIdx]
	c.cborIdx++
	return cbor.ParseResponse(raw)
}

var _ transport.Channel = (*Channel)(nil)
