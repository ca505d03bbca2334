package tunnel

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"ctap-authenticator/pkg/fido"
)

// Client drives the caBLE v2 tunnel: it dials the tunnel server the BLE
// advertisement named, then performs the desktop-speaks-first handshake to
// derive a Connection's session keys.
type Client struct {
	tunnelURL    string
	privateKey   []byte
	publicKey    []byte
	qrSecret     []byte
	tunnelID     []byte
	routingID    []byte
	conn         *websocket.Conn
	handshakeKey []byte
}

// Connection is an established, authenticated tunnel: a transport.Channel
// implementation wraps this to speak CTAP2 MSG framing over it.
type Connection struct {
	conn       *websocket.Conn
	encryptKey []byte
	decryptKey []byte
	sequenceNo uint64
}

// NewClient creates a tunnel client for the pairing material produced by
// qrcode.GenerateQRData, deriving the tunnel ID the server expects from the
// QR secret.
func NewClient(tunnelURL string, privateKey []byte, publicKey []byte, qrSecret []byte) (*Client, error) {
	if len(privateKey) != 32 {
		return nil, fido.NewProtocolError(fmt.Sprintf("private key must be 32 bytes, got %d", len(privateKey)))
	}
	if len(publicKey) != 33 {
		return nil, fido.NewProtocolError(fmt.Sprintf("public key must be 33 bytes, got %d", len(publicKey)))
	}
	if len(qrSecret) != 16 {
		return nil, fido.NewProtocolError(fmt.Sprintf("QR secret must be 16 bytes, got %d", len(qrSecret)))
	}

	tunnelID, err := deriveTunnelID(qrSecret)
	if err != nil {
		return nil, err
	}

	return &Client{
		tunnelURL:  tunnelURL,
		privateKey: privateKey,
		publicKey:  publicKey,
		qrSecret:   qrSecret,
		tunnelID:   tunnelID,
		routingID:  nil, // set by SetTunnelInfo once the BLE advertisement arrives
	}, nil
}

// deriveTunnelID derives the 128-bit tunnel ID from the QR secret via HKDF
// with caBLE v2's keyPurposeTunnelID (2).
func deriveTunnelID(qrSecret []byte) ([]byte, error) {
	var purpose32 [4]byte
	purpose32[0] = 2

	tunnelID := make([]byte, 16)
	if _, err := hkdf.New(sha256.New, qrSecret, nil, purpose32[:]).Read(tunnelID); err != nil {
		return nil, fido.NewProtocolError("deriving tunnel ID: " + err.Error())
	}
	return tunnelID, nil
}

// WaitForConnection dials the tunnel server's caBLE v2 connect endpoint
// (/cable/connect/<routing ID hex>/<tunnel ID hex>) and completes the
// handshake. SetTunnelInfo must have populated the routing ID first.
func (c *Client) WaitForConnection(ctx context.Context) (*Connection, error) {
	if len(c.routingID) == 0 {
		return nil, fido.NewTransportError(fido.InvalidEndpoint, "tunnel: routing ID not set, call SetTunnelInfo first")
	}

	domain := strings.TrimPrefix(strings.TrimPrefix(c.tunnelURL, "wss://"), "ws://")
	connectURL := fmt.Sprintf("wss://%s/cable/connect/%s/%s", domain, hex.EncodeToString(c.routingID), hex.EncodeToString(c.tunnelID))

	return c.attemptConnection(ctx, connectURL)
}

// attemptConnection dials wsURL and runs the caBLE v2 handshake over it.
func (c *Client) attemptConnection(ctx context.Context, wsURL string) (*Connection, error) {
	dialer := &websocket.Dialer{Subprotocols: []string{"fido.cable"}}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fido.NewTransportError(fido.NegotiationFailed, "dialing tunnel server: "+err.Error())
	}
	c.conn = conn

	handshakeConn, err := c.performHandshake(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return handshakeConn, nil
}

// performHandshake runs the caBLE v2 desktop-speaks-first handshake: derive
// the handshake key, send the initial encrypted message, and derive session
// keys from the phone's response.
func (c *Client) performHandshake(ctx context.Context) (*Connection, error) {
	handshakeKey, err := c.deriveHandshakeKey()
	if err != nil {
		return nil, err
	}
	c.handshakeKey = handshakeKey

	initialMessage, err := c.createInitialHandshakeMessage()
	if err != nil {
		return nil, err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, initialMessage); err != nil {
		return nil, fido.NewTransportError(fido.NegotiationFailed, "sending initial handshake message: "+err.Error())
	}

	_, responseMessage, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fido.NewTransportError(fido.NegotiationFailed, "reading handshake response: "+err.Error())
	}

	encryptKey, decryptKey, err := c.processHandshakeResponse(responseMessage)
	if err != nil {
		return nil, err
	}

	return &Connection{
		conn:       c.conn,
		encryptKey: encryptKey,
		decryptKey: decryptKey,
		sequenceNo: 0,
	}, nil
}

func (c *Client) deriveHandshakeKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := hkdf.New(sha256.New, c.qrSecret, nil, []byte("caBLE v2 handshake")).Read(key); err != nil {
		return nil, fido.NewProtocolError("deriving handshake key: " + err.Error())
	}
	return key, nil
}

// createInitialHandshakeMessage builds [public key(33)][nonce(12)][sealed
// payload], the desktop side's first handshake message.
func (c *Client) createInitialHandshakeMessage() ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fido.NewProtocolError("generating handshake nonce: " + err.Error())
	}

	cipher, err := chacha20poly1305.New(c.handshakeKey)
	if err != nil {
		return nil, fido.NewProtocolError("creating handshake cipher: " + err.Error())
	}

	message := make([]byte, 0, 33+12+32)
	message = append(message, c.publicKey...)
	message = append(message, nonce...)
	message = append(message, cipher.Seal(nil, nonce, []byte("desktop-handshake-v2"), c.publicKey)...)
	return message, nil
}

// processHandshakeResponse decrypts the phone's handshake response and
// derives the session keys from both sides' public keys.
func (c *Client) processHandshakeResponse(response []byte) (encryptKey, decryptKey []byte, err error) {
	if len(response) < 45 {
		return nil, nil, fido.NewProtocolError(fmt.Sprintf("handshake response too short: %d bytes", len(response)))
	}

	phonePublicKey := response[:33]
	nonce := response[33:45]
	encryptedPayload := response[45:]

	cipher, err := chacha20poly1305.New(c.handshakeKey)
	if err != nil {
		return nil, nil, fido.NewProtocolError("creating handshake cipher: " + err.Error())
	}
	if _, err := cipher.Open(nil, nonce, encryptedPayload, phonePublicKey); err != nil {
		return nil, nil, fido.NewTransportError(fido.NegotiationFailed, "decrypting handshake response: "+err.Error())
	}

	return c.deriveSessionKeys(phonePublicKey)
}

// deriveSessionKeys derives the encrypt/decrypt key pair from the
// handshake key and both sides' public keys.
func (c *Client) deriveSessionKeys(phonePublicKey []byte) (encryptKey, decryptKey []byte, err error) {
	sharedInfo := append(append([]byte(nil), c.publicKey...), phonePublicKey...)
	hkdfReader := hkdf.New(sha256.New, c.handshakeKey, nil, append([]byte("caBLE v2 session"), sharedInfo...))

	encryptKey = make([]byte, 32)
	decryptKey = make([]byte, 32)
	if _, err := hkdfReader.Read(encryptKey); err != nil {
		return nil, nil, fido.NewProtocolError("deriving encrypt key: " + err.Error())
	}
	if _, err := hkdfReader.Read(decryptKey); err != nil {
		return nil, nil, fido.NewProtocolError("deriving decrypt key: " + err.Error())
	}
	return encryptKey, decryptKey, nil
}

func (c *Connection) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ReadMessage reads and decrypts one message from the tunnel connection.
func (c *Connection) ReadMessage() ([]byte, error) {
	if c.conn == nil {
		return nil, fido.NewTransportError(fido.ConnectionLost, "tunnel: connection not established")
	}

	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, encryptedMessage, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fido.NewTransportError(fido.ConnectionLost, "reading tunnel message: "+err.Error())
	}
	return c.decryptMessage(encryptedMessage)
}

func (c *Connection) decryptMessage(encryptedMessage []byte) ([]byte, error) {
	if len(encryptedMessage) < 28 {
		return nil, fido.NewProtocolError(fmt.Sprintf("encrypted message too short: %d bytes", len(encryptedMessage)))
	}

	cipher, err := chacha20poly1305.New(c.decryptKey)
	if err != nil {
		return nil, fido.NewProtocolError("creating session cipher: " + err.Error())
	}

	nonce := encryptedMessage[:12]
	ciphertext := encryptedMessage[12:]
	plaintext, err := cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fido.NewProtocolError("decrypting tunnel message: " + err.Error())
	}
	return plaintext, nil
}

// WriteMessage encrypts and writes message to the tunnel connection.
func (c *Connection) WriteMessage(message []byte) error {
	if c.conn == nil {
		return fido.NewTransportError(fido.ConnectionLost, "tunnel: connection not established")
	}

	encryptedMessage, err := c.encryptMessage(message)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, encryptedMessage); err != nil {
		return fido.NewTransportError(fido.ConnectionLost, "writing tunnel message: "+err.Error())
	}
	return nil
}

func (c *Connection) encryptMessage(message []byte) ([]byte, error) {
	cipher, err := chacha20poly1305.New(c.encryptKey)
	if err != nil {
		return nil, fido.NewProtocolError("creating session cipher: " + err.Error())
	}

	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[:8], c.sequenceNo)
	c.sequenceNo++

	ciphertext := cipher.Seal(nil, nonce, message, nil)
	return append(nonce, ciphertext...), nil
}

// GetTunnelInfo reports the tunnel URL and hex-encoded routing/tunnel IDs.
func (c *Client) GetTunnelInfo() (tunnelURL, routingIDHex, tunnelIDHex string) {
	return c.tunnelURL, hex.EncodeToString(c.routingID), hex.EncodeToString(c.tunnelID)
}

// SetTunnelInfo records the routing ID carried by the BLE advertisement.
// connectionNonce proves proximity but isn't part of the tunnel ID, which
// was already derived from the QR secret in NewClient.
func (c *Client) SetTunnelInfo(routingID, connectionNonce []byte) {
	c.routingID = routingID
}
