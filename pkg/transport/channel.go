// Package transport defines the polymorphic Channel contract every
// transport (USB-HID, BLE, NFC, caBLE hybrid) satisfies, and the discovery
// contract used to enumerate and open devices. Grounded on
// libwebauthn/src/transport/{mod,channel,device}.rs.
package transport

import (
	"context"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
)

// ErrTimeout is returned by a Channel's Send/Recv pair when the caller's
// deadline expires before the peer responds. Transports wrap it so
// errors.Is(err, transport.ErrTimeout) works regardless of which transport
// produced it.
var ErrTimeout = fido.NewTransportError(fido.Timeout, "deadline exceeded")

// Status is one of Ready, Busy, Closed (spec §3 "Channel state").
type Status int

const (
	Ready Status = iota
	Busy
	Closed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a duplex byte channel carrying one APDU (CTAP1) or CBOR
// (CTAP2) frame at a time. Each Send must be paired with exactly one Recv
// on the same Channel; overlapping operations are undefined. A Channel is
// not reentrant and is never shared between concurrent WebAuthn operations.
type Channel interface {
	// SupportedProtocols reports which CTAP generations the peer speaks.
	// May probe the device; safe to call repeatedly.
	SupportedProtocols(ctx context.Context) (fido.SupportedProtocols, error)

	Status() Status
	Close() error

	ApduSend(ctx context.Context, req *apdu.Request, timeout time.Duration) error
	ApduRecv(ctx context.Context, timeout time.Duration) (*apdu.Response, error)

	CborSend(ctx context.Context, req *cbor.Request, timeout time.Duration) error
	CborRecv(ctx context.Context, timeout time.Duration) (*cbor.Response, error)
}

// DeviceDescriptor is an opaque handle to a discoverable device; the
// orchestrator never inspects its fields, only passes it back to Open.
type DeviceDescriptor interface {
	// String returns a human-readable label for logs, not a stable identity.
	String() string
}

// Discovery enumerates devices on one transport and opens channels to them.
// A discovery session owns the list of known devices; Open produces a
// Channel that exclusively owns the underlying OS handle, and Discovery
// must not issue I/O through an already-claimed device.
type Discovery interface {
	ListDevices(ctx context.Context) ([]DeviceDescriptor, error)
	Open(ctx context.Context, d DeviceDescriptor) (Channel, error)
}
