package qrcode

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"

	"ctap-authenticator/pkg/fido"
)

const cborMajorByteString = 2

// assignedTunnelServerDomains mirrors the browser's caBLE v2 QR payload:
// the number of entries (not the domains themselves) is what's encoded.
var assignedTunnelServerDomains = []string{"cable.ua5v.com", "cable.auth.com"}

// QRData is the caBLE v2 pairing material shown to the user as a QR code,
// plus the private half the authenticator never sees but this side needs
// to complete the tunnel handshake.
type QRData struct {
	PublicKey []byte // 33 bytes, P-256 compressed
	QRSecret  []byte // 16 bytes
	TunnelID  []byte // 16 bytes

	PrivateKey []byte // 32 bytes, kept local, never encoded into the QR
	TunnelURL  string
}

// compressECKey compresses a P-256 public key to its 33-byte SEC1 form.
func compressECKey(publicKey *ecdsa.PublicKey) [33]byte {
	var compressed [33]byte
	if publicKey.Y.Bit(0) == 0 {
		compressed[0] = 0x02
	} else {
		compressed[0] = 0x03
	}
	xBytes := publicKey.X.Bytes()
	copy(compressed[33-len(xBytes):], xBytes)
	return compressed
}

// GenerateQRData generates a fresh QR secret and P-256 identity key pair
// for one caBLE v2 pairing ceremony.
func GenerateQRData() (*QRData, error) {
	var qrSecret [16]byte
	if _, err := rand.Read(qrSecret[:]); err != nil {
		return nil, fido.NewProtocolError("generating QR secret: " + err.Error())
	}

	identityKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fido.NewProtocolError("generating identity key: " + err.Error())
	}
	identityKeyCompressed := compressECKey(&identityKey.PublicKey)

	tunnelID := make([]byte, 16)
	if _, err := rand.Read(tunnelID); err != nil {
		return nil, fido.NewProtocolError("generating tunnel ID: " + err.Error())
	}

	privateKey := make([]byte, 32)
	identityKey.D.FillBytes(privateKey)

	return &QRData{
		PublicKey:  identityKeyCompressed[:],
		QRSecret:   qrSecret[:],
		TunnelID:   tunnelID,
		PrivateKey: privateKey,
		TunnelURL:  "cable.ua5v.com",
	}, nil
}

// digitEncode packs bytes into an all-digit string, 7 bytes per 17-digit
// chunk, so the result survives being typed or read aloud and fits the
// FIDO:/ URL scheme QR readers expect.
func digitEncode(d []byte) string {
	const chunkSize = 7
	const chunkDigits = 17
	const zeros = "00000000000000000"

	var ret string
	for len(d) >= chunkSize {
		var chunk [8]byte
		copy(chunk[:], d[:chunkSize])
		v := strconv.FormatUint(binary.LittleEndian.Uint64(chunk[:]), 10)
		ret += zeros[:chunkDigits-len(v)]
		ret += v
		d = d[chunkSize:]
	}

	if len(d) != 0 {
		// partialChunkDigits is the number of digits needed to encode each
		// length of trailing data from 6 bytes down to zero: 15, 13, 10, 8,
		// 5, 3, 0, packed as hex nibbles.
		const partialChunkDigits = 0x0fda8530
		digits := 15 & (partialChunkDigits >> (4 * len(d)))
		var chunk [8]byte
		copy(chunk[:], d)
		v := strconv.FormatUint(binary.LittleEndian.Uint64(chunk[:]), 10)
		ret += zeros[:digits-len(v)]
		ret += v
	}

	return ret
}

// cborEncodeInt64 encodes a non-negative int64 as a canonical CBOR integer.
func cborEncodeInt64(value int64) []byte {
	switch {
	case value < 24:
		return []byte{byte(value)}
	case value < 256:
		return []byte{0x18, byte(value)}
	case value < 65536:
		return []byte{0x19, byte(value >> 8), byte(value)}
	case value < 4294967296:
		return []byte{0x1a, byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
	default:
		return []byte{0x1b, byte(value >> 56), byte(value >> 48), byte(value >> 40), byte(value >> 32), byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
	}
}

// DisplayQR renders qrData's caBLE v2 URL as a terminal QR code.
func DisplayQR(qrData *QRData) error {
	fidoURL, err := EncodeCableV2URL(qrData)
	if err != nil {
		return err
	}

	qr, err := qrcode.New(fidoURL, qrcode.Medium)
	if err != nil {
		return fido.NewProtocolError("creating QR code: " + err.Error())
	}

	fmt.Println("caBLE v2 hybrid transport QR code:")
	fmt.Println("scan this with your phone to authenticate")
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("public key: %x\n", qrData.PublicKey)
	fmt.Printf("QR secret: %x\n", qrData.QRSecret)
	fmt.Printf("tunnel URL: %s\n", qrData.TunnelURL)
	fmt.Println("waiting for BLE connection...")

	return nil
}

// EncodeCableV2URL converts qrData to a caBLE v2 "FIDO:/<digits>" URL.
func EncodeCableV2URL(qrData *QRData) (string, error) {
	if len(qrData.PublicKey) != 33 {
		return "", fido.NewProtocolError(fmt.Sprintf("public key must be 33 bytes, got %d", len(qrData.PublicKey)))
	}
	if len(qrData.QRSecret) != 16 {
		return "", fido.NewProtocolError(fmt.Sprintf("QR secret must be 16 bytes, got %d", len(qrData.QRSecret)))
	}

	var compressedPublicKey [33]byte
	var qrSecretArray [16]byte
	copy(compressedPublicKey[:], qrData.PublicKey)
	copy(qrSecretArray[:], qrData.QRSecret)

	return encodeQRContents(&compressedPublicKey, &qrSecretArray), nil
}

// encodeQRContents builds the caBLE v2 CBOR map (public key, QR secret,
// assigned-domain count, timestamp, "can send state assertion" flag, and
// the "ga" operation hint) and digit-encodes it. A GREASE key is included
// roughly a quarter of the time so readers tolerate future extra keys.
func encodeQRContents(compressedPublicKey *[33]byte, qrSecret *[16]byte) string {
	numMapElements := 6
	var randByte [1]byte
	rand.Reader.Read(randByte[:])
	extraKey := randByte[0]&3 == 0
	if extraKey {
		numMapElements++
	}

	var cb []byte
	cb = append(cb, 0xa0+byte(numMapElements))
	cb = append(cb, 0)
	cb = append(cb, (cborMajorByteString<<5)|24, 33)
	cb = append(cb, compressedPublicKey[:]...)
	cb = append(cb, 1)
	cb = append(cb, (cborMajorByteString<<5)|16)
	cb = append(cb, qrSecret[:]...)

	cb = append(cb, 2)
	n := len(assignedTunnelServerDomains)
	cb = append(cb, byte(n))

	cb = append(cb, 3)
	cb = append(cb, cborEncodeInt64(time.Now().Unix())...)

	cb = append(cb, 4)
	cb = append(cb, 0xf4) // false

	cb = append(cb, 5)
	cb = append(cb, (3<<5)|2, 'g', 'a') // "ga": getAssertion

	if extraKey {
		cb = append(cb, 0x19, 0xff, 0xff, 0)
	}

	return "FIDO:/" + digitEncode(cb)
}

// ValidateQRData checks qrData against the lengths caBLE v2 requires.
func ValidateQRData(qrData *QRData) error {
	if len(qrData.PublicKey) != 33 {
		return fido.NewProtocolError(fmt.Sprintf("invalid public key length: expected 33, got %d", len(qrData.PublicKey)))
	}
	if len(qrData.QRSecret) != 16 {
		return fido.NewProtocolError(fmt.Sprintf("invalid QR secret length: expected 16, got %d", len(qrData.QRSecret)))
	}
	return nil
}
