package pin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// ProtocolV1 implements PIN/UV Auth Protocol One (spec.md §4.3.1): the
// shared secret is SHA-256 of the ECDH X-coordinate, encryption is
// AES-256-CBC with an all-zero IV and no padding, and authentication is
// the left 16 bytes of HMAC-SHA-256.
type ProtocolV1 struct{}

func NewProtocolV1() *ProtocolV1 { return &ProtocolV1{} }

func (ProtocolV1) Version() uint32 { return 1 }

func (ProtocolV1) Encapsulate(authenticatorKey PublicKey) (*Session, error) {
	priv, pub, z, err := ecdhEncapsulate(authenticatorKey)
	if err != nil {
		return nil, err
	}
	secret := sha256.Sum256(z)
	return &Session{
		PlatformPublicKey: publicKeyFromECDH(pub),
		SharedSecret:      secret[:],
		platformPrivate:   priv,
	}, nil
}

func (ProtocolV1) Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pin: v1 plaintext length %d is not a multiple of the AES block size", len(plaintext))
	}
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("pin: v1 building AES cipher: %w", err)
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plaintext)
	return out, nil
}

func (ProtocolV1) Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, fmt.Errorf("pin: v1 ciphertext length %d is invalid", len(ciphertext))
	}
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("pin: v1 building AES cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, ciphertext)
	return out, nil
}

func (ProtocolV1) Authenticate(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)[:16]
}
