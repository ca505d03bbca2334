// Package ctap2 issues CTAP2 operations -- GetInfo, MakeCredential,
// GetAssertion, GetNextAssertion, ClientPIN -- over a transport.Channel.
// Command and status byte constants are carried over from the teacher's
// authenticator-side ctap2.go; the operations themselves are new,
// client-issuing counterparts (the teacher only ever responded to incoming
// commands, never sent them).
package ctap2

import (
	"context"
	"fmt"
	"time"

	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

// CTAP2 command codes.
const (
	CmdMakeCredential     byte = 0x01
	CmdGetAssertion       byte = 0x02
	CmdGetInfo            byte = 0x04
	CmdClientPIN          byte = 0x06
	CmdReset              byte = 0x07
	CmdGetNextAssertion   byte = 0x08
	CmdBioEnrollment      byte = 0x09
	CmdCredentialManagement byte = 0x0A
)

// CTAP1/CTAP2 response status codes (spec.md §7).
const (
	ErrSuccess                  byte = 0x00
	ErrInvalidCommand           byte = 0x01
	ErrInvalidParameter         byte = 0x02
	ErrInvalidLength            byte = 0x03
	ErrInvalidSeq               byte = 0x04
	ErrTimeout                  byte = 0x05
	ErrChannelBusy              byte = 0x06
	ErrLockRequired             byte = 0x0A
	ErrInvalidChannel           byte = 0x0B
	ErrCBORUnexpectedType       byte = 0x11
	ErrInvalidCBOR              byte = 0x12
	ErrMissingParameter         byte = 0x14
	ErrLimitExceeded            byte = 0x15
	ErrUnsupportedExtension     byte = 0x16
	ErrCredentialExcluded       byte = 0x19
	ErrProcessing               byte = 0x21
	ErrInvalidCredential        byte = 0x22
	ErrUserActionPending        byte = 0x23
	ErrOperationPending         byte = 0x24
	ErrNoOperations             byte = 0x25
	ErrUnsupportedAlgorithm     byte = 0x26
	ErrOperationDenied          byte = 0x27
	ErrKeyStoreFull             byte = 0x28
	ErrNotBusy                  byte = 0x29
	ErrNoOperationPending       byte = 0x2A
	ErrUnsupportedOption        byte = 0x2B
	ErrInvalidOption            byte = 0x2C
	ErrKeepaliveCancel          byte = 0x2D
	ErrNoCredentials            byte = 0x2E
	ErrUserActionTimeout        byte = 0x2F
	ErrNotAllowed               byte = 0x30
	ErrPinInvalid               byte = 0x31
	ErrPinBlocked               byte = 0x32
	ErrPinAuthInvalid           byte = 0x33
	ErrPinAuthBlocked           byte = 0x34
	ErrPinNotSet                byte = 0x35
	ErrPinRequired              byte = 0x36
	ErrPinPolicyViolation       byte = 0x37
	ErrPinTokenExpired          byte = 0x38
	ErrRequestTooLarge          byte = 0x39
	ErrActionTimeout            byte = 0x3A
	ErrUpRequired               byte = 0x3B
	ErrUvBlocked                byte = 0x3C
	ErrUvInvalid                byte = 0x3D
	ErrUnauthorizedPermission   byte = 0x3E
)

const DefaultTimeout = 30 * time.Second

// roundTrip sends one CBOR request and decodes its response, translating a
// non-success status byte into a *fido.CtapError.
func roundTrip(ctx context.Context, ch transport.Channel, cmd byte, params interface{}, out interface{}, timeout time.Duration) error {
	req, err := cbor.NewRequest(cmd, params)
	if err != nil {
		return fmt.Errorf("ctap2: encoding request: %w", err)
	}
	if err := ch.CborSend(ctx, req, timeout); err != nil {
		return fmt.Errorf("ctap2: sending request: %w", err)
	}
	resp, err := ch.CborRecv(ctx, timeout)
	if err != nil {
		return fmt.Errorf("ctap2: receiving response: %w", err)
	}
	if !resp.IsSuccess() {
		return fido.NewCtapError(resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("ctap2: decoding response: %w", err)
	}
	return nil
}

// GetInfoResponse is the CTAP2 authenticatorGetInfo response (spec.md §3).
type GetInfoResponse struct {
	Versions         []string        `cbor:"1,keyasint"`
	Extensions       []string        `cbor:"2,keyasint,omitempty"`
	AAGUID           []byte          `cbor:"3,keyasint"`
	Options          map[string]bool `cbor:"4,keyasint,omitempty"`
	MaxMsgSize       uint            `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocols []uint32      `cbor:"6,keyasint,omitempty"`
	Transports       []string        `cbor:"9,keyasint,omitempty"`
}

// ClientPin reports whether the authenticator has a PIN set.
func (r *GetInfoResponse) ClientPin() bool { return r.Options["clientPin"] }

// UV reports built-in user-verification support.
func (r *GetInfoResponse) UV() bool { return r.Options["uv"] }

// GetInfo issues authenticatorGetInfo.
func GetInfo(ctx context.Context, ch transport.Channel) (*GetInfoResponse, error) {
	var out GetInfoResponse
	if err := roundTrip(ctx, ch, CmdGetInfo, nil, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// MakeCredentialParams is the CBOR parameter map for authenticatorMakeCredential.
type MakeCredentialParams struct {
	ClientDataHash     []byte                   `cbor:"1,keyasint"`
	RP                 fido.RelyingParty        `cbor:"2,keyasint"`
	User               fido.User                `cbor:"3,keyasint"`
	PubKeyCredParams   []fido.PubKeyCredParam   `cbor:"4,keyasint"`
	ExcludeList        []fido.CredentialDescriptor `cbor:"5,keyasint,omitempty"`
	Options            map[string]bool          `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam     []byte                   `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol  uint32                   `cbor:"9,keyasint,omitempty"`
}

// MakeCredentialResult is the CBOR response map for authenticatorMakeCredential.
type MakeCredentialResult struct {
	Fmt      string                 `cbor:"1,keyasint"`
	AuthData []byte                 `cbor:"2,keyasint"`
	AttStmt  map[string]interface{} `cbor:"3,keyasint"`
}

// MakeCredential issues authenticatorMakeCredential.
func MakeCredential(ctx context.Context, ch transport.Channel, params *MakeCredentialParams) (*MakeCredentialResult, error) {
	var out MakeCredentialResult
	if err := roundTrip(ctx, ch, CmdMakeCredential, params, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAssertionParams is the CBOR parameter map for authenticatorGetAssertion.
type GetAssertionParams struct {
	RPID              string                       `cbor:"1,keyasint"`
	ClientDataHash    []byte                       `cbor:"2,keyasint"`
	AllowList         []fido.CredentialDescriptor `cbor:"3,keyasint,omitempty"`
	Options           map[string]bool              `cbor:"5,keyasint,omitempty"`
	PinUvAuthParam    []byte                       `cbor:"6,keyasint,omitempty"`
	PinUvAuthProtocol uint32                       `cbor:"7,keyasint,omitempty"`
}

// GetAssertionResult is the CBOR response map for authenticatorGetAssertion.
type GetAssertionResult struct {
	Credential          *fido.CredentialDescriptor `cbor:"1,keyasint,omitempty"`
	AuthData             []byte                      `cbor:"2,keyasint"`
	Signature            []byte                      `cbor:"3,keyasint"`
	User                 *fido.User                  `cbor:"4,keyasint,omitempty"`
	NumberOfCredentials int                          `cbor:"5,keyasint,omitempty"`
}

// GetAssertion issues authenticatorGetAssertion.
func GetAssertion(ctx context.Context, ch transport.Channel, params *GetAssertionParams) (*GetAssertionResult, error) {
	var out GetAssertionResult
	if err := roundTrip(ctx, ch, CmdGetAssertion, params, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNextAssertion issues authenticatorGetNextAssertion, used to drain the
// remaining credentials after a GetAssertion whose NumberOfCredentials > 1.
func GetNextAssertion(ctx context.Context, ch transport.Channel) (*GetAssertionResult, error) {
	var out GetAssertionResult
	if err := roundTrip(ctx, ch, CmdGetNextAssertion, nil, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClientPIN subcommands (spec.md §4.2).
const (
	PinSubGetRetries                          uint32 = 0x01
	PinSubGetKeyAgreement                      uint32 = 0x02
	PinSubSetPin                                uint32 = 0x03
	PinSubChangePin                             uint32 = 0x04
	PinSubGetPinToken                          uint32 = 0x05
	PinSubGetPinUvAuthTokenUsingUvWithPermissions uint32 = 0x06
	PinSubGetUVRetries                         uint32 = 0x07
	PinSubGetPinUvAuthTokenUsingPinWithPermissions uint32 = 0x09
)

// ClientPINParams is the CBOR parameter map for authenticatorClientPIN.
type ClientPINParams struct {
	PinUvAuthProtocol uint32                 `cbor:"1,keyasint,omitempty"`
	SubCommand        uint32                 `cbor:"2,keyasint"`
	KeyAgreement      map[int]interface{}    `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte                 `cbor:"4,keyasint,omitempty"`
	NewPinEnc         []byte                 `cbor:"5,keyasint,omitempty"`
	PinHashEnc        []byte                 `cbor:"6,keyasint,omitempty"`
	Permissions       uint32                 `cbor:"9,keyasint,omitempty"`
	RPID              string                 `cbor:"10,keyasint,omitempty"`
}

// ClientPINResult is the CBOR response map for authenticatorClientPIN.
type ClientPINResult struct {
	KeyAgreement   map[int]interface{} `cbor:"1,keyasint,omitempty"`
	PinUvAuthToken []byte              `cbor:"2,keyasint,omitempty"`
	PinRetries     int                 `cbor:"3,keyasint,omitempty"`
	PowerCycleState bool               `cbor:"4,keyasint,omitempty"`
	UvRetries      int                 `cbor:"5,keyasint,omitempty"`
}

// ClientPIN issues authenticatorClientPIN with the given subcommand params.
func ClientPIN(ctx context.Context, ch transport.Channel, params *ClientPINParams) (*ClientPINResult, error) {
	var out ClientPINResult
	if err := roundTrip(ctx, ch, CmdClientPIN, params, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Permission bits for pinUvAuthToken (spec.md §4.2).
const (
	PermMakeCredential       uint32 = 0x01
	PermGetAssertion         uint32 = 0x02
	PermCredentialManagement uint32 = 0x04
	PermBioEnrollment        uint32 = 0x08
	PermLargeBlobWrite       uint32 = 0x10
	PermAuthenticatorConfig  uint32 = 0x20
)

// UserVerifiableRequest is satisfied by the CTAP2 parameter structs that
// carry a pinUvAuthParam: the user-verification state machine (pkg/webauthn)
// mutates one of these in place rather than knowing MakeCredential from
// GetAssertion.
type UserVerifiableRequest interface {
	SetUVAuth(protocolVersion uint32, param []byte)
	EnsureUVSet()
	Permissions() uint32
	PermissionsRPID() string
	GetClientDataHash() []byte
}

func (p *MakeCredentialParams) SetUVAuth(protocolVersion uint32, param []byte) {
	p.PinUvAuthProtocol = protocolVersion
	p.PinUvAuthParam = param
}

func (p *MakeCredentialParams) EnsureUVSet() {
	if p.Options == nil {
		p.Options = map[string]bool{}
	}
	p.Options["uv"] = true
}

func (p *MakeCredentialParams) Permissions() uint32      { return PermMakeCredential }
func (p *MakeCredentialParams) PermissionsRPID() string  { return p.RP.ID }
func (p *MakeCredentialParams) GetClientDataHash() []byte { return p.ClientDataHash }

func (p *GetAssertionParams) SetUVAuth(protocolVersion uint32, param []byte) {
	p.PinUvAuthProtocol = protocolVersion
	p.PinUvAuthParam = param
}

func (p *GetAssertionParams) EnsureUVSet() {
	if p.Options == nil {
		p.Options = map[string]bool{}
	}
	p.Options["uv"] = true
}

func (p *GetAssertionParams) Permissions() uint32      { return PermGetAssertion }
func (p *GetAssertionParams) PermissionsRPID() string  { return p.RPID }
func (p *GetAssertionParams) GetClientDataHash() []byte { return p.ClientDataHash }

var (
	_ UserVerifiableRequest = (*MakeCredentialParams)(nil)
	_ UserVerifiableRequest = (*GetAssertionParams)(nil)
)
