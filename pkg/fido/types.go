package fido

// COSEAlgorithmIdentifier is a COSE algorithm identifier as used in
// pubKeyCredParams. Only ES256 is load-bearing for the U2F downgrade rule,
// the rest are carried so a full pubKeyCredParams list round-trips.
type COSEAlgorithmIdentifier int64

const (
	ES256 COSEAlgorithmIdentifier = -7
	EdDSA COSEAlgorithmIdentifier = -8
	ES384 COSEAlgorithmIdentifier = -35
	RS256 COSEAlgorithmIdentifier = -257
)

// UserVerificationRequirement is the WebAuthn-level UV request.
type UserVerificationRequirement string

const (
	UVDiscouraged UserVerificationRequirement = "discouraged"
	UVPreferred   UserVerificationRequirement = "preferred"
	UVRequired    UserVerificationRequirement = "required"
)

func (r UserVerificationRequirement) IsPreferred() bool { return r == UVPreferred }
func (r UserVerificationRequirement) IsRequired() bool  { return r == UVRequired }

// PubKeyCredParam pairs a credential type with a COSE algorithm, in the
// order the relying party asked for them.
type PubKeyCredParam struct {
	Type string                  `cbor:"type"`
	Alg  COSEAlgorithmIdentifier `cbor:"alg"`
}

// RelyingParty identifies the RP in a MakeCredential request.
type RelyingParty struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// User identifies the account being enrolled in a MakeCredential request.
type User struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

// CredentialDescriptor names a previously-registered credential, used in
// excludeList/allowList.
type CredentialDescriptor struct {
	Type         string   `cbor:"type"`
	CredentialID []byte   `cbor:"id"`
	Transports   []string `cbor:"transports,omitempty"`
}

// MakeCredentialRequest is the WebAuthn-level create() request, before any
// CTAP1/CTAP2 translation.
type MakeCredentialRequest struct {
	RPID                string
	RPName              string
	User                User
	ClientDataHash      [32]byte
	PubKeyCredParams    []PubKeyCredParam
	ExcludeList         []CredentialDescriptor
	RequireResidentKey  bool
	UserVerification    UserVerificationRequirement
	Timeout             int64 // milliseconds; 0 means caller default
}

// GetAssertionRequest is the WebAuthn-level get() request.
type GetAssertionRequest struct {
	RPID             string
	ClientDataHash   [32]byte
	AllowList        []CredentialDescriptor
	UserVerification UserVerificationRequirement
	Timeout          int64
}

// SupportedProtocols reports which CTAP generations a channel's peer
// understands. At least one of U2F/FIDO2 must be true or negotiation fails.
type SupportedProtocols struct {
	U2F   bool
	FIDO2 bool
}

// FidoProtocol is the protocol negotiation chose for a single operation.
type FidoProtocol int

const (
	ProtocolFIDO2 FidoProtocol = iota
	ProtocolU2F
)

func (p FidoProtocol) String() string {
	if p == ProtocolU2F {
		return "U2F"
	}
	return "FIDO2"
}

// Credential identifies a signed or created credential in a WebAuthn-level
// response.
type Credential struct {
	Type         string
	CredentialID []byte
}

// MakeCredentialResponse is the WebAuthn-level create() result.
type MakeCredentialResponse struct {
	Credential      Credential
	AttestationObject AttestationObject
	ClientDataHash  [32]byte
}

// GetAssertionResponse is the WebAuthn-level get() result. OtherAssertions
// holds any assertions beyond the first, collected via CTAP2
// GetNextAssertion; it is empty on the U2F path and when the authenticator
// reported only one matching credential.
type GetAssertionResponse struct {
	Credential      Credential
	AuthData        []byte
	Signature       []byte
	UserHandle      []byte
	NumCredentials  int
	OtherAssertions []GetAssertionResponse
}

// AttestationObject is the CBOR-encodable `{fmt, authData, attStmt}` map
// WebAuthn expects back from both native CTAP2 MakeCredential responses and
// upgraded CTAP1 Register responses.
type AttestationObject struct {
	Fmt      string                 `cbor:"fmt"`
	AuthData []byte                 `cbor:"authData"`
	AttStmt  map[string]interface{} `cbor:"attStmt"`
}

// AuthenticatorFlags are the single flags byte embedded in AuthenticatorData.
type AuthenticatorFlags byte

const (
	FlagUserPresent AuthenticatorFlags = 1 << 0
	FlagUserVerified AuthenticatorFlags = 1 << 2
	FlagAttestedCredentialData AuthenticatorFlags = 1 << 6
	FlagExtensionData AuthenticatorFlags = 1 << 7
)

func (f AuthenticatorFlags) UserPresent() bool    { return f&FlagUserPresent != 0 }
func (f AuthenticatorFlags) UserVerified() bool   { return f&FlagUserVerified != 0 }
func (f AuthenticatorFlags) HasAttestedCredentialData() bool { return f&FlagAttestedCredentialData != 0 }

// AttestedCredentialData is the `{aaguid, credentialId, credentialPublicKey}`
// block embedded in AuthenticatorData when the AT flag is set. Layout
// grounded on jyrodrigues-appattest/authenticator/authenticator.go.
type AttestedCredentialData struct {
	AAGUID              [16]byte
	CredentialID        []byte
	CredentialPublicKey []byte // raw COSE_Key bytes, opaque to this layer
}

// AuthenticatorData is the parsed form of the authData byte string, per
// WebAuthn §6.1.
type AuthenticatorData struct {
	RPIDHash  [32]byte
	Flags     AuthenticatorFlags
	SignCount uint32
	AttestedCredentialData *AttestedCredentialData
}

// ZeroAAGUID is the synthesized AAGUID used for CTAP1-upgraded attestation,
// per spec §4.1.
var ZeroAAGUID [16]byte

// Marshal encodes AuthenticatorData into its wire byte string: 32-byte RP ID
// hash, 1 flags byte, 4-byte big-endian sign count, then attested credential
// data if present.
func (a *AuthenticatorData) Marshal() []byte {
	out := make([]byte, 0, 37)
	out = append(out, a.RPIDHash[:]...)
	out = append(out, byte(a.Flags))
	out = append(out, byte(a.SignCount>>24), byte(a.SignCount>>16), byte(a.SignCount>>8), byte(a.SignCount))
	if a.AttestedCredentialData != nil {
		acd := a.AttestedCredentialData
		out = append(out, acd.AAGUID[:]...)
		l := len(acd.CredentialID)
		out = append(out, byte(l>>8), byte(l))
		out = append(out, acd.CredentialID...)
		out = append(out, acd.CredentialPublicKey...)
	}
	return out
}
