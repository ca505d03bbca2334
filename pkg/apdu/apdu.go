// Package apdu implements the CTAP1 (U2F) APDU wire codec: extended-length
// request framing, and the Register/Authenticate/Version response bodies.
// Grounded on spec.md §6; no third-party APDU library appears anywhere in
// the retrieval pack, so this stays on the standard library (encoding of
// big-endian lengths and byte slicing needs nothing more).
package apdu

import (
	"encoding/binary"
	"fmt"
)

// CTAP1 instruction codes.
const (
	InsRegister     byte = 0x01
	InsAuthenticate byte = 0x02
	InsVersion      byte = 0x03
)

// Authenticate control byte (P1).
const (
	ControlEnforceUserPresence byte = 0x03
	ControlCheckOnly           byte = 0x07
	ControlDontEnforce         byte = 0x08
)

// Status words.
const (
	StatusNoError                 uint16 = 0x9000
	StatusConditionsNotSatisfied  uint16 = 0x6985
	StatusWrongData               uint16 = 0x6A80
)

// Request is a CTAP1 APDU request, always framed with extended length
// (a 3-byte Lc, and a 2-byte Le of zero) per spec.md §6.
type Request struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}

// Marshal encodes the request as:
// CLA | INS | P1 | P2 | 0x00 | Lc_hi | Lc_lo | data | 0x00 0x00 (Le = 0).
func (r *Request) Marshal() []byte {
	out := make([]byte, 0, 7+len(r.Data)+2)
	out = append(out, r.CLA, r.INS, r.P1, r.P2, 0x00)
	var lc [2]byte
	binary.BigEndian.PutUint16(lc[:], uint16(len(r.Data)))
	out = append(out, lc[:]...)
	out = append(out, r.Data...)
	out = append(out, 0x00, 0x00)
	return out
}

// Response is a decoded CTAP1 APDU response: a data payload plus the
// trailing two-byte status word.
type Response struct {
	Data   []byte
	Status uint16
}

// ParseResponse splits the trailing status word off a raw APDU response.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("apdu response too short: %d bytes", len(raw))
	}
	n := len(raw)
	return &Response{
		Data:   raw[:n-2],
		Status: binary.BigEndian.Uint16(raw[n-2:]),
	}, nil
}

// IsSuccess reports whether the status word is SW_NO_ERROR.
func (r *Response) IsSuccess() bool { return r.Status == StatusNoError }

// RegisterRequestBody builds the data portion of a CTAP1 Register request:
// challenge(32) | appIdHash(32).
func RegisterRequestBody(challenge, appIDHash [32]byte) []byte {
	out := make([]byte, 0, 64)
	out = append(out, challenge[:]...)
	out = append(out, appIDHash[:]...)
	return out
}

// RegisterResponse is the parsed CTAP1 Register response body:
// 0x05 | userPubKey(65) | L | keyHandle(L) | attestCert(DER) | signature(DER).
type RegisterResponse struct {
	UserPublicKey [65]byte
	KeyHandle     []byte
	AttestCert    []byte
	Signature     []byte
}

// ParseRegisterResponse decodes a Register response data payload.
func ParseRegisterResponse(data []byte) (*RegisterResponse, error) {
	if len(data) < 1+65+1 {
		return nil, fmt.Errorf("register response too short: %d bytes", len(data))
	}
	if data[0] != 0x05 {
		return nil, fmt.Errorf("register response reserved byte is 0x%02x, want 0x05", data[0])
	}
	r := &RegisterResponse{}
	copy(r.UserPublicKey[:], data[1:66])
	l := int(data[66])
	offset := 67
	if len(data) < offset+l {
		return nil, fmt.Errorf("register response key handle truncated: want %d bytes, have %d", l, len(data)-offset)
	}
	r.KeyHandle = append([]byte(nil), data[offset:offset+l]...)
	offset += l

	// The remaining bytes are an X.509 DER certificate followed by a DER
	// ECDSA signature. Certificates are ASN.1 SEQUENCEs: 0x30 len-bytes...;
	// we slice the cert by parsing its own length so the signature can be
	// split off without a full ASN.1 parser.
	certLen, err := asn1SequenceLength(data[offset:])
	if err != nil {
		return nil, fmt.Errorf("register response cert: %w", err)
	}
	r.AttestCert = append([]byte(nil), data[offset:offset+certLen]...)
	offset += certLen
	r.Signature = append([]byte(nil), data[offset:]...)
	return r, nil
}

// asn1SequenceLength returns the total encoded length (tag+length+content)
// of a DER SEQUENCE starting at buf[0], without parsing its contents.
func asn1SequenceLength(buf []byte) (int, error) {
	if len(buf) < 2 || buf[0] != 0x30 {
		return 0, fmt.Errorf("not a DER SEQUENCE")
	}
	if buf[1] < 0x80 {
		return 2 + int(buf[1]), nil
	}
	numLenBytes := int(buf[1] &^ 0x80)
	if numLenBytes == 0 || numLenBytes > 4 || len(buf) < 2+numLenBytes {
		return 0, fmt.Errorf("unsupported DER length encoding")
	}
	length := 0
	for _, b := range buf[2 : 2+numLenBytes] {
		length = (length << 8) | int(b)
	}
	return 2 + numLenBytes + length, nil
}

// AuthenticateRequestBody builds the data portion of a CTAP1 Authenticate
// request: challenge(32) | appIdHash(32) | L | keyHandle(L).
func AuthenticateRequestBody(challenge, appIDHash [32]byte, keyHandle []byte) []byte {
	out := make([]byte, 0, 65+len(keyHandle))
	out = append(out, challenge[:]...)
	out = append(out, appIDHash[:]...)
	out = append(out, byte(len(keyHandle)))
	out = append(out, keyHandle...)
	return out
}

// AuthenticateResponse is the parsed CTAP1 Authenticate response body:
// userPresence(1) | counter(4, big-endian) | signature(DER).
type AuthenticateResponse struct {
	UserPresence byte
	Counter      uint32
	Signature    []byte
}

// ParseAuthenticateResponse decodes an Authenticate response data payload.
func ParseAuthenticateResponse(data []byte) (*AuthenticateResponse, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("authenticate response too short: %d bytes", len(data))
	}
	return &AuthenticateResponse{
		UserPresence: data[0],
		Counter:      binary.BigEndian.Uint32(data[1:5]),
		Signature:    append([]byte(nil), data[5:]...),
	}, nil
}
