package qrcode

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateQRData(t *testing.T) {
	qrData, err := GenerateQRData()
	if err != nil {
		t.Fatalf("GenerateQRData() failed: %v", err)
	}

	if len(qrData.PublicKey) != 33 {
		t.Errorf("PublicKey length = %d, want 33 (P-256 compressed)", len(qrData.PublicKey))
	}
	if len(qrData.QRSecret) != 16 {
		t.Errorf("QRSecret length = %d, want 16", len(qrData.QRSecret))
	}
	if len(qrData.TunnelID) != 16 {
		t.Errorf("TunnelID length = %d, want 16", len(qrData.TunnelID))
	}
	if len(qrData.PrivateKey) != 32 {
		t.Errorf("PrivateKey length = %d, want 32", len(qrData.PrivateKey))
	}
	if qrData.TunnelURL == "" {
		t.Error("TunnelURL should not be empty")
	}
}

func TestValidateQRData(t *testing.T) {
	qrData, err := GenerateQRData()
	if err != nil {
		t.Fatalf("GenerateQRData() failed: %v", err)
	}
	if err := ValidateQRData(qrData); err != nil {
		t.Errorf("ValidateQRData() failed for valid data: %v", err)
	}

	qrData.PublicKey = make([]byte, 16)
	if err := ValidateQRData(qrData); err == nil {
		t.Error("ValidateQRData() should fail with invalid public key length")
	}

	qrData, _ = GenerateQRData()
	qrData.QRSecret = make([]byte, 32)
	if err := ValidateQRData(qrData); err == nil {
		t.Error("ValidateQRData() should fail with invalid QR secret length")
	}
}

func TestEncodeCableV2URL(t *testing.T) {
	qrData, err := GenerateQRData()
	if err != nil {
		t.Fatalf("GenerateQRData failed: %v", err)
	}

	cableURL, err := EncodeCableV2URL(qrData)
	if err != nil {
		t.Fatalf("EncodeCableV2URL failed: %v", err)
	}

	if !strings.HasPrefix(cableURL, "FIDO:/") {
		t.Error("caBLE URL should start with FIDO:/")
	}

	dataPart := strings.TrimPrefix(cableURL, "FIDO:/")
	if len(dataPart) == 0 {
		t.Error("caBLE URL should have encoded data")
	}
	for _, r := range dataPart {
		if !(r >= '0' && r <= '9') {
			t.Errorf("invalid numeric character found: %c", r)
		}
	}
}

func TestEncodeCableV2URLRejectsWrongLengths(t *testing.T) {
	qrData := &QRData{PublicKey: make([]byte, 10), QRSecret: make([]byte, 16)}
	if _, err := EncodeCableV2URL(qrData); err == nil {
		t.Error("expected an error for a short public key")
	}

	qrData = &QRData{PublicKey: make([]byte, 33), QRSecret: make([]byte, 10)}
	if _, err := EncodeCableV2URL(qrData); err == nil {
		t.Error("expected an error for a short QR secret")
	}
}

// TestCBOREncodingChromiumFormat encodes a fixed public key and QR secret and
// checks that the result is a FIDO:/ URL of plausible length. The CBOR map
// inside the digits is not decoded, so its keys and values are not checked
// here.
func TestCBOREncodingChromiumFormat(t *testing.T) {
	publicKey, _ := hex.DecodeString("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2021")
	qrSecret, _ := hex.DecodeString("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")

	qrData := &QRData{
		PublicKey:  publicKey,
		QRSecret:   qrSecret,
		TunnelID:   []byte{},
		PrivateKey: make([]byte, 32),
		TunnelURL:  "cable.ua5v.com",
	}

	url, err := EncodeCableV2URL(qrData)
	if err != nil {
		t.Fatalf("EncodeCableV2URL: %v", err)
	}
	if !strings.HasPrefix(url, "FIDO:/") {
		t.Errorf("expected URL to start with 'FIDO:/', got: %s", url)
	}
	if len(url) < 20 {
		t.Errorf("URL seems too short: %s", url)
	}
}
