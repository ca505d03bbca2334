// Package cbor wraps fxamacker/cbor/v2 with the canonical, definite-length,
// ascending-integer-key encoding CTAP2 requires (spec.md §6), and frames a
// CBOR request/response with its leading CTAP2 command/status byte.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: building canonical encode mode: %v", err))
	}
	return mode
}

// Marshal encodes v as canonical CBOR (definite-length, sorted integer map
// keys), matching the wire format every conforming CTAP2 authenticator
// expects.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// Request is a single outgoing CTAP2 message: a command byte followed by a
// CBOR-encoded parameter map (absent for commands with no parameters).
type Request struct {
	Command byte
	Params  []byte
}

// Marshal concatenates the command byte and CBOR parameter bytes into the
// frame a Channel sends as one CTAP2 message.
func (r *Request) Marshal() []byte {
	out := make([]byte, 0, 1+len(r.Params))
	out = append(out, r.Command)
	out = append(out, r.Params...)
	return out
}

// NewRequest CBOR-encodes params (which may be nil) and wraps them with cmd.
func NewRequest(cmd byte, params interface{}) (*Request, error) {
	if params == nil {
		return &Request{Command: cmd}, nil
	}
	body, err := Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("cbor: encoding request params: %w", err)
	}
	return &Request{Command: cmd, Params: body}, nil
}

// Response is a single incoming CTAP2 message: a status byte (0x00 on
// success) followed by an optional CBOR response map.
type Response struct {
	Status byte
	Body   []byte
}

// ParseResponse splits the leading status byte off a raw CTAP2 response
// frame.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("cbor: empty CTAP2 response")
	}
	return &Response{Status: raw[0], Body: raw[1:]}, nil
}

// IsSuccess reports whether the status byte is CTAP2's 0x00.
func (r *Response) IsSuccess() bool { return r.Status == 0x00 }

// Decode CBOR-decodes the response body into v. Callers must check
// IsSuccess first; a non-success response carries no parseable body.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	return Unmarshal(r.Body, v)
}
