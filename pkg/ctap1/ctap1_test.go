package ctap1

import (
	"context"
	"crypto/sha256"
	"testing"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport/faketransport"
)

func scriptedApdu(status uint16, data []byte) []byte {
	out := append([]byte{}, data...)
	out = append(out, byte(status>>8), byte(status))
	return out
}

func TestRegisterSuccess(t *testing.T) {
	var pubKey [65]byte
	pubKey[0] = 0x04
	body := []byte{0x05}
	body = append(body, pubKey[:]...)
	body = append(body, 2, 'k', 'h')
	body = append(body, 0x30, 0x02, 0xAA, 0xBB) // minimal DER cert
	body = append(body, 0x30, 0x02, 0x01, 0x02) // minimal DER sig

	ch := faketransport.New(fido.SupportedProtocols{U2F: true})
	ch.ApduResponses = [][]byte{scriptedApdu(apdu.StatusNoError, body)}

	var challenge, appID [32]byte
	resp, err := Register(context.Background(), ch, challenge, appID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if string(resp.KeyHandle) != "kh" {
		t.Fatalf("KeyHandle = %q, want %q", resp.KeyHandle, "kh")
	}
	if len(ch.ApduRequests) != 1 || ch.ApduRequests[0].INS != apdu.InsRegister {
		t.Fatal("expected exactly one Register request")
	}
}

func TestAuthenticateWrongDataMapsToNoCredentials(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{U2F: true})
	ch.ApduResponses = [][]byte{scriptedApdu(apdu.StatusWrongData, nil)}

	var challenge, appID [32]byte
	_, err := Authenticate(context.Background(), ch, EnforceUserPresence, challenge, appID, []byte("kh"))
	if err != fido.ErrNoCredentials {
		t.Fatalf("err = %v, want fido.ErrNoCredentials", err)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	body := []byte{0x01, 0x00, 0x00, 0x00, 0x09}
	body = append(body, 0x30, 0x03, 0x01, 0x02, 0x03)

	ch := faketransport.New(fido.SupportedProtocols{U2F: true})
	ch.ApduResponses = [][]byte{scriptedApdu(apdu.StatusNoError, body)}

	var challenge, appID [32]byte
	resp, err := Authenticate(context.Background(), ch, EnforceUserPresence, challenge, appID, []byte("kh"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if resp.Counter != 9 {
		t.Fatalf("Counter = %d, want 9", resp.Counter)
	}
}

func TestVersion(t *testing.T) {
	ch := faketransport.New(fido.SupportedProtocols{U2F: true})
	ch.ApduResponses = [][]byte{scriptedApdu(apdu.StatusNoError, []byte("U2F_V2"))}

	v, err := Version(context.Background(), ch)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "U2F_V2" {
		t.Fatalf("Version() = %q, want U2F_V2", v)
	}
}

func TestAppIDHashIsSHA256(t *testing.T) {
	h := AppIDHash("example.com")
	if want := sha256.Sum256([]byte("example.com")); h != want {
		t.Fatalf("AppIDHash = %x, want SHA-256 %x", h, want)
	}
}
