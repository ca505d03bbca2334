package webauthn

import (
	"fmt"

	"ctap-authenticator/pkg/pin"
)

// COSE_Key labels for an EC2 P-256 public key (RFC 9053 §7.1.1).
const (
	coseKty   = 1
	coseAlg   = 3
	coseCrv   = -1
	coseX     = -2
	coseY     = -3
	coseKtyEC2 = 2
	coseCrvP256 = 1
)

// coseToPublicKey decodes a COSE_Key map (as returned by ClientPIN's
// GetKeyAgreement) into the 32-byte X/Y coordinates pkg/pin works with.
func coseToPublicKey(key map[int]interface{}) (pin.PublicKey, error) {
	x, err := coseCoordinate(key, coseX)
	if err != nil {
		return pin.PublicKey{}, err
	}
	y, err := coseCoordinate(key, coseY)
	if err != nil {
		return pin.PublicKey{}, err
	}
	var pub pin.PublicKey
	copy(pub.X[:], x)
	copy(pub.Y[:], y)
	return pub, nil
}

func coseCoordinate(key map[int]interface{}, label int) ([]byte, error) {
	v, ok := key[label]
	if !ok {
		return nil, fmt.Errorf("cose: key agreement missing label %d", label)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 32 {
		return nil, fmt.Errorf("cose: label %d is not a 32-byte coordinate", label)
	}
	return b, nil
}

// platformKeyMap encodes the platform's ephemeral public key as the
// COSE_Key map sent alongside a pinUvAuthToken request, so the
// authenticator can complete the same ECDH the platform already did.
func platformKeyMap(pub pin.PublicKey) map[int]interface{} {
	return map[int]interface{}{
		coseKty: coseKtyEC2,
		coseAlg: -25, // ECDH-ES+HKDF-256, per CTAP2's key agreement algorithm
		coseCrv: coseCrvP256,
		coseX:   append([]byte(nil), pub.X[:]...),
		coseY:   append([]byte(nil), pub.Y[:]...),
	}
}
