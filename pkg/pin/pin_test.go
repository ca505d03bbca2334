package pin

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"
)

func TestV1EncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	plaintext := make([]byte, 64)
	rand.Read(plaintext)

	v1 := NewProtocolV1()
	ct, err := v1.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := v1.Decrypt(key, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %x want %x", pt, plaintext)
	}
}

// TestV2EncryptDecryptRoundTrip is invariant #4: decrypt(encrypt(m)) == m
// for arbitrary block-aligned lengths under Protocol Two.
func TestV2EncryptDecryptRoundTrip(t *testing.T) {
	v2 := NewProtocolV2()
	sharedSecret := make([]byte, 64)
	rand.Read(sharedSecret)

	for _, n := range []int{16, 32, 48, 256} {
		plaintext := make([]byte, n)
		rand.Read(plaintext)

		ct, err := v2.Encrypt(sharedSecret, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", n, err)
		}
		if len(ct) != 16+n {
			t.Fatalf("ciphertext length = %d, want %d", len(ct), 16+n)
		}
		pt, err := v2.Decrypt(sharedSecret, ct)
		if err != nil {
			t.Fatalf("Decrypt(%d): %v", n, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatalf("round trip mismatch for n=%d: got %x want %x", n, pt, plaintext)
		}
	}
}

func TestV2EncryptRandomizesIV(t *testing.T) {
	v2 := NewProtocolV2()
	sharedSecret := make([]byte, 64)
	rand.Read(sharedSecret)
	plaintext := make([]byte, 16)

	a, err := v2.Encrypt(sharedSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := v2.Encrypt(sharedSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestV1AuthenticateTruncatesTo16Bytes(t *testing.T) {
	v1 := NewProtocolV1()
	tag := v1.Authenticate([]byte("key"), []byte("message"))
	if len(tag) != 16 {
		t.Fatalf("len(tag) = %d, want 16", len(tag))
	}
}

func TestV2AuthenticateFull32Bytes(t *testing.T) {
	v2 := NewProtocolV2()
	key := make([]byte, 64)
	rand.Read(key)
	tag := v2.Authenticate(key, []byte("message"))
	if len(tag) != 32 {
		t.Fatalf("len(tag) = %d, want 32", len(tag))
	}
}

func TestSelectProtocolPrefersFirstSupported(t *testing.T) {
	p, err := SelectProtocol([]uint32{2, 1})
	if err != nil {
		t.Fatalf("SelectProtocol: %v", err)
	}
	if p.Version() != 2 {
		t.Fatalf("Version() = %d, want 2", p.Version())
	}
}

func TestSelectProtocolNoneSupported(t *testing.T) {
	if _, err := SelectProtocol([]uint32{99}); err == nil {
		t.Fatal("expected error for unsupported protocol list")
	}
}

func TestEncapsulateSharedSecretMatches(t *testing.T) {
	v2 := NewProtocolV2()

	// Simulate the authenticator side with its own P-256 key pair, then
	// confirm both sides of the ECDH derive the identical shared secret.
	authPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating authenticator key pair: %v", err)
	}
	authPub := publicKeyFromECDH(authPriv.PublicKey())

	session, err := v2.Encapsulate(authPub)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if len(session.SharedSecret) != 64 {
		t.Fatalf("len(SharedSecret) = %d, want 64", len(session.SharedSecret))
	}

	platformPub, err := session.PlatformPublicKey.toECDH()
	if err != nil {
		t.Fatalf("toECDH: %v", err)
	}
	z, err := authPriv.ECDH(platformPub)
	if err != nil {
		t.Fatalf("authenticator ECDH: %v", err)
	}
	wantSecret, err := deriveV2Keys(z)
	if err != nil {
		t.Fatalf("deriveV2Keys: %v", err)
	}
	if !bytes.Equal(session.SharedSecret, wantSecret) {
		t.Fatal("platform and authenticator derived different shared secrets")
	}

	session.Zeroize()
	if session.platformPrivate != nil {
		t.Fatal("Zeroize did not clear platformPrivate")
	}
}

func TestHashIsDeterministicAndNormalizes(t *testing.T) {
	a := Hash("correct horse battery staple")
	b := Hash("correct horse battery staple")
	if !bytes.Equal(a, b) {
		t.Fatal("Hash is not deterministic")
	}
	if len(a) != 16 {
		t.Fatalf("len(Hash) = %d, want 16", len(a))
	}
	// U+FB01 (the "fi" ligature) is NFKC-equivalent to "fi".
	if !bytes.Equal(Hash("ﬁ"), Hash("fi")) {
		t.Fatal("Hash does not NFKC-normalize its input")
	}
}
