// Package pin implements the CTAP2 PIN/UV authentication protocols (spec.md
// §4.3): shared-secret establishment over ECDH P-256, the protocol-specific
// encrypt/decrypt envelope, and authentication tag computation. Protocol 1
// and Protocol 2 share one capability set (the Protocol interface); one of
// them is selected once, by version number, and every cryptographic call
// goes through that interface.
package pin

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// PublicKey is the uncompressed P-256 point exchanged in COSE_Key form over
// the wire (ClientPIN getKeyAgreement). X and Y are each 32 bytes.
type PublicKey struct {
	X, Y [32]byte
}

func (k PublicKey) toECDH() (*ecdh.PublicKey, error) {
	raw := make([]byte, 0, 65)
	raw = append(raw, 0x04)
	raw = append(raw, k.X[:]...)
	raw = append(raw, k.Y[:]...)
	return ecdh.P256().NewPublicKey(raw)
}

func publicKeyFromECDH(pub *ecdh.PublicKey) PublicKey {
	raw := pub.Bytes() // 0x04 || X || Y, uncompressed
	var k PublicKey
	copy(k.X[:], raw[1:33])
	copy(k.Y[:], raw[33:65])
	return k
}

// Session is the ephemeral state created by Encapsulate: the platform's
// P-256 key pair and the derived shared secret. Per spec.md §9, the private
// scalar must not outlive the user_verification call that created it;
// Zeroize releases it once the request it authenticates completes.
type Session struct {
	PlatformPublicKey PublicKey
	SharedSecret      []byte

	platformPrivate *ecdh.PrivateKey
}

// Zeroize drops the reference to the ephemeral platform private key and
// zeroes the shared secret. crypto/ecdh only hands out a copy of the private
// key's bytes, so the key's own memory is not overwritten. Safe to call more
// than once.
func (s *Session) Zeroize() {
	if s.platformPrivate == nil {
		return
	}
	b := s.platformPrivate.Bytes()
	for i := range b {
		b[i] = 0
	}
	s.platformPrivate = nil
	for i := range s.SharedSecret {
		s.SharedSecret[i] = 0
	}
}

// Protocol is the capability set both PIN/UV auth protocol versions share.
type Protocol interface {
	// Version returns the protocol version number (1 or 2) as sent in
	// pinUvAuthProtocol.
	Version() uint32

	// Encapsulate generates a fresh platform P-256 key pair, performs ECDH
	// with the authenticator's public key, and derives the shared secret.
	Encapsulate(authenticatorKey PublicKey) (*Session, error)

	// Encrypt envelopes plaintext under the shared secret.
	Encrypt(sharedSecret, plaintext []byte) ([]byte, error)

	// Decrypt inverts Encrypt.
	Decrypt(sharedSecret, ciphertext []byte) ([]byte, error)

	// Authenticate computes the MAC used as pinUvAuthParam.
	Authenticate(key, message []byte) []byte
}

// SelectProtocol picks the first version in {1, 2} appearing in
// pinUvAuthProtocols (iterated in order, per spec.md §4.2 step 7).
func SelectProtocol(pinUvAuthProtocols []uint32) (Protocol, error) {
	for _, v := range pinUvAuthProtocols {
		switch v {
		case 1:
			return NewProtocolV1(), nil
		case 2:
			return NewProtocolV2(), nil
		}
	}
	return nil, fmt.Errorf("pin: no supported pinUvAuthProtocol in %v", pinUvAuthProtocols)
}

func ecdhEncapsulate(authenticatorKey PublicKey) (*ecdh.PrivateKey, *ecdh.PublicKey, []byte, error) {
	curve := ecdh.P256()
	platformPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pin: generating platform key pair: %w", err)
	}
	authPub, err := authenticatorKey.toECDH()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pin: parsing authenticator public key: %w", err)
	}
	z, err := platformPriv.ECDH(authPub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pin: ECDH: %w", err)
	}
	return platformPriv, platformPriv.PublicKey(), z, nil
}
