package ctap2

import (
	"context"
	"testing"

	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport/faketransport"
)

func scriptedCbor(t *testing.T, status byte, body interface{}) []byte {
	t.Helper()
	encoded, err := cbor.Marshal(body)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	return append([]byte{status}, encoded...)
}

func TestGetInfo(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{FIDO2: true})
	ch.CborResponses = [][]byte{scriptedCbor(t, ErrSuccess, GetInfoResponse{
		Versions:           []string{"FIDO_2_0"},
		PinUvAuthProtocols: []uint32{2, 1},
		Options:            map[string]bool{"clientPin": true},
	})}

	info, err := GetInfo(context.Background(), ch)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if !info.ClientPin() {
		t.Fatal("expected ClientPin() == true")
	}
	if len(ch.CborRequests) != 1 || ch.CborRequests[0].Command != CmdGetInfo {
		t.Fatal("expected exactly one GetInfo request")
	}
}

func TestMakeCredentialSuccess(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{FIDO2: true})
	ch.CborResponses = [][]byte{scriptedCbor(t, ErrSuccess, MakeCredentialResult{
		Fmt:      "packed",
		AuthData: []byte{1, 2, 3},
		AttStmt:  map[string]interface{}{},
	})}

	params := &MakeCredentialParams{
		ClientDataHash:   make([]byte, 32),
		RP:               fido.RelyingParty{ID: "example.com"},
		User:             fido.User{ID: []byte("u1")},
		PubKeyCredParams: []fido.PubKeyCredParam{{Type: "public-key", Alg: fido.ES256}},
	}
	result, err := MakeCredential(context.Background(), ch, params)
	if err != nil {
		t.Fatalf("MakeCredential: %v", err)
	}
	if result.Fmt != "packed" {
		t.Fatalf("Fmt = %q, want packed", result.Fmt)
	}
}

func TestMakeCredentialErrorStatus(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{FIDO2: true})
	ch.CborResponses = [][]byte{{ErrPinRequired}}

	_, err := MakeCredential(context.Background(), ch, &MakeCredentialParams{})
	ctapErr, ok := err.(*fido.CtapError)
	if !ok {
		t.Fatalf("err type = %T, want *fido.CtapError", err)
	}
	if ctapErr.Code != ErrPinRequired {
		t.Fatalf("Code = %x, want %x", ctapErr.Code, ErrPinRequired)
	}
}

func TestGetAssertionAndGetNextAssertion(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{FIDO2: true})
	ch.CborResponses = [][]byte{
		scriptedCbor(t, ErrSuccess, GetAssertionResult{AuthData: []byte{1}, Signature: []byte{2}, NumberOfCredentials: 2}),
		scriptedCbor(t, ErrSuccess, GetAssertionResult{AuthData: []byte{3}, Signature: []byte{4}}),
	}

	first, err := GetAssertion(context.Background(), ch, &GetAssertionParams{RPID: "example.com", ClientDataHash: make([]byte, 32)})
	if err != nil {
		t.Fatalf("GetAssertion: %v", err)
	}
	if first.NumberOfCredentials != 2 {
		t.Fatalf("NumberOfCredentials = %d, want 2", first.NumberOfCredentials)
	}

	next, err := GetNextAssertion(context.Background(), ch)
	if err != nil {
		t.Fatalf("GetNextAssertion: %v", err)
	}
	if next.Signature[0] != 4 {
		t.Fatalf("unexpected second assertion")
	}
}
