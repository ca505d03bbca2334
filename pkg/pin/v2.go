package pin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfHMACInfo = "CTAP2 HMAC key"
	hkdfAESInfo  = "CTAP2 AES key"
)

// ProtocolV2 implements PIN/UV Auth Protocol Two (spec.md §4.3.2): the
// shared secret is split via HKDF-SHA-256 into a 32-byte HMAC key and a
// 32-byte AES key, encryption is AES-256-CBC with a random IV prepended to
// the ciphertext, and authentication is the full 32-byte HMAC-SHA-256 tag.
type ProtocolV2 struct{}

func NewProtocolV2() *ProtocolV2 { return &ProtocolV2{} }

func (ProtocolV2) Version() uint32 { return 2 }

func (ProtocolV2) Encapsulate(authenticatorKey PublicKey) (*Session, error) {
	priv, pub, z, err := ecdhEncapsulate(authenticatorKey)
	if err != nil {
		return nil, err
	}
	secret, err := deriveV2Keys(z)
	if err != nil {
		return nil, err
	}
	return &Session{
		PlatformPublicKey: publicKeyFromECDH(pub),
		SharedSecret:      secret,
		platformPrivate:   priv,
	}, nil
}

// deriveV2Keys runs the two fixed-salt, fixed-info HKDF extracts spec.md
// §4.3.2 requires and concatenates them into a single 64-byte secret: the
// first 32 bytes are the HMAC key, the last 32 are the AES key.
func deriveV2Keys(z []byte) ([]byte, error) {
	salt := make([]byte, 32)
	hmacKey, err := hkdfExpand(z, salt, hkdfHMACInfo)
	if err != nil {
		return nil, err
	}
	aesKey, err := hkdfExpand(z, salt, hkdfAESInfo)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 64)
	out = append(out, hmacKey...)
	out = append(out, aesKey...)
	return out, nil
}

func hkdfExpand(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("pin: v2 HKDF for %q: %w", info, err)
	}
	return key, nil
}

func (ProtocolV2) hmacKey(sharedSecret []byte) []byte { return sharedSecret[:32] }
func (ProtocolV2) aesKey(sharedSecret []byte) []byte  { return sharedSecret[32:64] }

func (p ProtocolV2) Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pin: v2 plaintext length %d is not a multiple of the AES block size", len(plaintext))
	}
	block, err := aes.NewCipher(p.aesKey(sharedSecret))
	if err != nil {
		return nil, fmt.Errorf("pin: v2 building AES cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("pin: v2 generating IV: %w", err)
	}
	out := make([]byte, aes.BlockSize+len(plaintext))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plaintext)
	return out, nil
}

func (p ProtocolV2) Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize || (len(ciphertext)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pin: v2 ciphertext length %d is invalid", len(ciphertext))
	}
	block, err := aes.NewCipher(p.aesKey(sharedSecret))
	if err != nil {
		return nil, fmt.Errorf("pin: v2 building AES cipher: %w", err)
	}
	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return out, nil
}

func (p ProtocolV2) Authenticate(key, message []byte) []byte {
	mac := hmac.New(sha256.New, p.hmacKey(key))
	mac.Write(message)
	return mac.Sum(nil)
}
