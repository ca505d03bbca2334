package ble

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"

	"ctap-authenticator/pkg/fido"
)

// caBLE v2 cryptographic constants.
const (
	cableV2EIDKeyLength    = 64 // EID key length (32 bytes AES + 32 bytes HMAC)
	cableV2AESKeyLength    = 32
	cableV2AdvertLength    = 20 // BLE advertisement service-data length
	cableV2PlaintextLength = 16 // decrypted plaintext length
)

// keyPurpose is the HKDF "purpose" byte that distinguishes the several keys
// caBLE v2 derives from the same QR secret.
type keyPurpose uint32

const (
	keyPurposeEIDKey   keyPurpose = 1
	keyPurposeTunnelID keyPurpose = 2
)

// CableV2Decryptor trial-decrypts BLE service-data advertisements against a
// QR secret, the client side of caBLE v2's "anyone can advertise, only the
// holder of the secret can read it" pairing step.
type CableV2Decryptor struct {
	qrSecret []byte
}

func NewCableV2Decryptor(qrSecret []byte) *CableV2Decryptor {
	return &CableV2Decryptor{qrSecret: qrSecret}
}

// DecryptServiceData decrypts a 20-byte BLE service-data advertisement,
// returning fido.ProtocolError if the HMAC tag doesn't match (the
// advertisement isn't addressed to this QR secret) or the data is malformed.
func (d *CableV2Decryptor) DecryptServiceData(encryptedData []byte) ([]byte, error) {
	if len(encryptedData) != cableV2AdvertLength {
		return nil, fido.NewProtocolError("caBLE v2 service data must be 20 bytes")
	}

	var eidKey [cableV2EIDKeyLength]byte
	if err := d.derive(eidKey[:], d.qrSecret, nil, keyPurposeEIDKey); err != nil {
		return nil, err
	}

	plaintext, ok := d.trialDecrypt(&eidKey, encryptedData)
	if !ok {
		return nil, fido.NewProtocolError("caBLE v2 advertisement failed HMAC authentication")
	}
	return plaintext[:], nil
}

// derive implements the caBLE v2 HKDF derivation with a single-byte purpose
// encoded as a little-endian uint32.
func (d *CableV2Decryptor) derive(output, secret, salt []byte, purpose keyPurpose) error {
	var purpose32 [4]byte
	purpose32[0] = byte(purpose)

	h := hkdf.New(sha256.New, secret, salt, purpose32[:])
	if _, err := h.Read(output); err != nil {
		return fido.NewProtocolError("HKDF derivation failed: " + err.Error())
	}
	return nil
}

// trialDecrypt verifies the HMAC tag over the first 16 bytes, then decrypts
// them with a single AES-ECB block -- caBLE v2's advertisement has no
// separate nonce, so the authenticator tag doubles as the only integrity
// check available to a scanner that hasn't yet paired.
func (d *CableV2Decryptor) trialDecrypt(eidKey *[cableV2EIDKeyLength]byte, candidateAdvert []byte) ([cableV2PlaintextLength]byte, bool) {
	var zeros [cableV2PlaintextLength]byte
	if len(candidateAdvert) != cableV2AdvertLength {
		return zeros, false
	}

	aesKey := eidKey[:cableV2AESKeyLength]
	hmacKey := eidKey[cableV2AESKeyLength:]

	h := hmac.New(sha256.New, hmacKey)
	h.Write(candidateAdvert[:16])
	expectedTag := h.Sum(nil)
	if !hmac.Equal(expectedTag[:4], candidateAdvert[16:]) {
		return zeros, false
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return zeros, false
	}
	var plaintext [cableV2PlaintextLength]byte
	block.Decrypt(plaintext[:], candidateAdvert[:16])

	if !d.reservedBitsAreZero(plaintext) {
		return zeros, false
	}
	return plaintext, true
}

// reservedBitsAreZero checks that the flags byte (reserved in the current
// caBLE v2 revision) is zero.
func (d *CableV2Decryptor) reservedBitsAreZero(plaintext [cableV2PlaintextLength]byte) bool {
	return plaintext[0] == 0
}

// ParseDecryptedServiceData splits a decrypted 16-byte plaintext into its
// connection nonce, routing ID and tunnel service identifier per the caBLE
// v2 layout: [1 flags][10 nonce][3 routing ID][2 tunnel service].
func ParseDecryptedServiceData(decryptedData []byte) (nonce, routingID, tunnelService []byte, err error) {
	if len(decryptedData) != cableV2PlaintextLength {
		return nil, nil, nil, fido.NewProtocolError("decrypted caBLE v2 data must be 16 bytes")
	}

	nonce = append([]byte(nil), decryptedData[1:11]...)
	routingID = append([]byte(nil), decryptedData[11:14]...)
	tunnelService = append([]byte(nil), decryptedData[14:16]...)
	return nonce, routingID, tunnelService, nil
}
