package ble

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// TestCableV2Decryption exercises DecryptServiceData/ParseDecryptedServiceData
// against synthetic but internally-consistent advertisement vectors (produced
// by running the same derivation forward), including the failure modes a
// real scanner hits: wrong QR secret, truncated advertisement, corrupted tag.
func TestCableV2Decryption(t *testing.T) {
	testCases := []struct {
		name                  string
		qrSecret              string
		encryptedServiceData  string
		expectedPlaintext     string
		expectedNonce         string
		expectedRoutingID     string
		expectedTunnelService string
		shouldSucceed         bool
	}{
		{
			name:                  "synthetic vector 1",
			qrSecret:              "3e3bb1c00f37e7380280f2b1f2fc3846",
			encryptedServiceData:  "5fe6149e9950f5957a92a0ebc8c1766d80969202",
			expectedPlaintext:     "00b89c04c7dc93c57a1ceb801be00000",
			expectedNonce:         "b89c04c7dc93c57a1ceb",
			expectedRoutingID:     "801be0",
			expectedTunnelService: "0000",
			shouldSucceed:         true,
		},
		{
			name:                  "synthetic vector 2",
			qrSecret:              "f260d8c9c60ce46fe38aa666fba688ed",
			encryptedServiceData:  "1609f251713aa68259ddc1fddc21d86ca16f9f37",
			expectedPlaintext:     "00a2489a79df0ea8e9989d8924086f72",
			expectedNonce:         "a2489a79df0ea8e9989d",
			expectedRoutingID:     "892408",
			expectedTunnelService: "6f72",
			shouldSucceed:         true,
		},
		{
			name:                 "wrong QR secret fails authentication",
			qrSecret:             "00000000000000000000000000000000",
			encryptedServiceData: "5fe6149e9950f5957a92a0ebc8c1766d80969202",
			shouldSucceed:        false,
		},
		{
			name:                 "short advertisement is rejected",
			qrSecret:             "3e3bb1c00f37e7380280f2b1f2fc3846",
			encryptedServiceData: "5fe6149e9950f5957a92a0ebc8c1766d",
			shouldSucceed:        false,
		},
		{
			name:                 "corrupted HMAC tag is rejected",
			qrSecret:             "3e3bb1c00f37e7380280f2b1f2fc3846",
			encryptedServiceData: "5fe6149e9950f5957a92a0ebc8c1766dffffffff",
			shouldSucceed:        false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qrSecret, err := hex.DecodeString(tc.qrSecret)
			if err != nil {
				t.Fatalf("decoding QR secret: %v", err)
			}
			encryptedData, err := hex.DecodeString(tc.encryptedServiceData)
			if err != nil {
				t.Fatalf("decoding service data: %v", err)
			}

			decryptor := NewCableV2Decryptor(qrSecret)
			decryptedData, err := decryptor.DecryptServiceData(encryptedData)

			if !tc.shouldSucceed {
				if err == nil {
					t.Fatalf("expected decryption to fail, got %x", decryptedData)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected decryption to succeed: %v", err)
			}

			expectedPlaintext, _ := hex.DecodeString(tc.expectedPlaintext)
			if !bytes.Equal(decryptedData, expectedPlaintext) {
				t.Errorf("plaintext = %x, want %x", decryptedData, expectedPlaintext)
			}

			nonce, routingID, tunnelService, err := ParseDecryptedServiceData(decryptedData)
			if err != nil {
				t.Fatalf("ParseDecryptedServiceData: %v", err)
			}

			expectedNonce, _ := hex.DecodeString(tc.expectedNonce)
			if !bytes.Equal(nonce, expectedNonce) {
				t.Errorf("nonce = %x, want %x", nonce, expectedNonce)
			}
			expectedRoutingID, _ := hex.DecodeString(tc.expectedRoutingID)
			if !bytes.Equal(routingID, expectedRoutingID) {
				t.Errorf("routingID = %x, want %x", routingID, expectedRoutingID)
			}
			expectedTunnelService, _ := hex.DecodeString(tc.expectedTunnelService)
			if !bytes.Equal(tunnelService, expectedTunnelService) {
				t.Errorf("tunnelService = %x, want %x", tunnelService, expectedTunnelService)
			}
		})
	}
}

func TestHKDFKeyDerivation(t *testing.T) {
	testCases := []struct {
		name              string
		qrSecret          string
		purpose           keyPurpose
		expectedKeyPrefix string
	}{
		{
			name:              "EID key, synthetic vector 1",
			qrSecret:          "3e3bb1c00f37e7380280f2b1f2fc3846",
			purpose:           keyPurposeEIDKey,
			expectedKeyPrefix: "2ee8efb7d730cebf",
		},
		{
			name:              "EID key, synthetic vector 2",
			qrSecret:          "f260d8c9c60ce46fe38aa666fba688ed",
			purpose:           keyPurposeEIDKey,
			expectedKeyPrefix: "74939221f28dbe5a",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qrSecret, err := hex.DecodeString(tc.qrSecret)
			if err != nil {
				t.Fatalf("decoding QR secret: %v", err)
			}

			decryptor := NewCableV2Decryptor(qrSecret)
			var eidKey [cableV2EIDKeyLength]byte
			if err := decryptor.derive(eidKey[:], qrSecret, nil, tc.purpose); err != nil {
				t.Fatalf("derive: %v", err)
			}

			expectedPrefix, _ := hex.DecodeString(tc.expectedKeyPrefix)
			if !bytes.Equal(eidKey[:8], expectedPrefix) {
				t.Errorf("key prefix = %x, want %x", eidKey[:8], expectedPrefix)
			}
		})
	}
}

func TestTrialDecryptFunction(t *testing.T) {
	testCases := []struct {
		name              string
		qrSecret          string
		serviceData       string
		shouldSucceed     bool
		expectedFirstByte byte
	}{
		{
			name:              "valid service data decrypts",
			qrSecret:          "3e3bb1c00f37e7380280f2b1f2fc3846",
			serviceData:       "5fe6149e9950f5957a92a0ebc8c1766d80969202",
			shouldSucceed:     true,
			expectedFirstByte: 0x00,
		},
		{
			name:          "corrupted HMAC fails",
			qrSecret:      "3e3bb1c00f37e7380280f2b1f2fc3846",
			serviceData:   "5fe6149e9950f5957a92a0ebc8c1766dffffffff",
			shouldSucceed: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qrSecret, _ := hex.DecodeString(tc.qrSecret)
			serviceData, _ := hex.DecodeString(tc.serviceData)

			decryptor := NewCableV2Decryptor(qrSecret)
			var eidKey [cableV2EIDKeyLength]byte
			if err := decryptor.derive(eidKey[:], qrSecret, nil, keyPurposeEIDKey); err != nil {
				t.Fatalf("derive: %v", err)
			}

			plaintext, success := decryptor.trialDecrypt(&eidKey, serviceData)

			if tc.shouldSucceed != success {
				t.Fatalf("trialDecrypt success = %v, want %v", success, tc.shouldSucceed)
			}
			if success && plaintext[0] != tc.expectedFirstByte {
				t.Errorf("plaintext[0] = %#x, want %#x", plaintext[0], tc.expectedFirstByte)
			}
		})
	}
}

func TestParseDecryptedServiceDataRejectsWrongLength(t *testing.T) {
	if _, _, _, err := ParseDecryptedServiceData(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a 10-byte input")
	}
}

func TestReservedBitsValidation(t *testing.T) {
	decryptor := NewCableV2Decryptor([]byte("dummy"))

	testCases := []struct {
		name          string
		firstByte     byte
		shouldBeValid bool
	}{
		{"zero reserved bits are valid", 0x00, true},
		{"0x01 is invalid", 0x01, false},
		{"0xff is invalid", 0xff, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var plaintext [cableV2PlaintextLength]byte
			plaintext[0] = tc.firstByte

			if got := decryptor.reservedBitsAreZero(plaintext); got != tc.shouldBeValid {
				t.Errorf("reservedBitsAreZero(%#x) = %v, want %v", tc.firstByte, got, tc.shouldBeValid)
			}
		})
	}
}
