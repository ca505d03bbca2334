// Command ctap2-hybrid pairs with a phone authenticator over QR/BLE/caBLE
// hybrid transport and runs a single WebAuthn MakeCredential ceremony
// against it, saving the resulting attestation to disk.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ctap-authenticator/pkg/attestation"
	"ctap-authenticator/pkg/ble"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/qrcode"
	"ctap-authenticator/pkg/transport/cable"
	"ctap-authenticator/pkg/tunnel"
	"ctap-authenticator/pkg/webauthn"
)

func main() {
	var (
		outputFile = flag.String("output", "attestation.json", "Output file for attestation")
		rpID       = flag.String("rp", "example.com", "Relying party ID to register a credential for")
		timeout    = flag.Duration("timeout", 5*time.Minute, "Operation timeout")
	)
	flag.Parse()

	if err := setupLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up log file: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if logFileHandle != nil {
			log.Printf("=== ctap2-hybrid log ended %s ===", time.Now().Format(time.RFC3339))
			logFileHandle.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
		go func() {
			time.Sleep(3 * time.Second)
			os.Exit(1)
		}()
	}()

	resp, err := runHybridRegistration(ctx, *rpID)
	if err != nil {
		switch err {
		case context.DeadlineExceeded:
			log.Printf("operation timed out after %v", *timeout)
		case context.Canceled:
			log.Printf("operation cancelled")
		default:
			log.Printf("error: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := attestation.SaveToFile(*rpID, resp, *outputFile); err != nil {
		log.Printf("failed to save attestation: %v", err)
		os.Exit(1)
	}
	log.Printf("hybrid registration completed, attestation saved to %s", *outputFile)
}

// runHybridRegistration drives the full caBLE pairing ceremony: display a
// QR code, wait for the phone's BLE advertisement, open the encrypted
// tunnel it advertises, then run WebAuthn MakeCredential over it.
func runHybridRegistration(ctx context.Context, rpID string) (*fido.MakeCredentialResponse, error) {
	qrData, err := qrcode.GenerateQRData()
	if err != nil {
		return nil, fmt.Errorf("generating QR data: %w", err)
	}
	if err := qrcode.DisplayQR(qrData); err != nil {
		return nil, fmt.Errorf("displaying QR code: %w", err)
	}

	scanner, err := ble.NewScanner(qrData.QRSecret)
	if err != nil {
		return nil, fmt.Errorf("creating BLE scanner: %w", err)
	}

	log.Println("waiting for phone to advertise after QR scan...")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tunnelInfo, err := scanner.WaitForTunnelAdvertisement(ctx)
	if err != nil {
		return nil, fmt.Errorf("receiving tunnel advertisement: %w", err)
	}
	log.Printf("received tunnel info: url=%s routing=%x", tunnelInfo.TunnelURL, tunnelInfo.RoutingID)

	client, err := tunnel.NewClient(tunnelInfo.TunnelURL, qrData.PrivateKey, qrData.PublicKey, qrData.QRSecret)
	if err != nil {
		return nil, fmt.Errorf("creating tunnel client: %w", err)
	}
	client.SetTunnelInfo(tunnelInfo.RoutingID, tunnelInfo.ConnectionNonce)

	conn, err := client.WaitForConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("completing tunnel handshake: %w", err)
	}
	defer conn.Close()

	ch := cable.New(conn)

	var clientDataHash [32]byte
	if _, err := rand.Read(clientDataHash[:]); err != nil {
		return nil, fmt.Errorf("generating client data hash: %w", err)
	}

	req := &fido.MakeCredentialRequest{
		RPID:             rpID,
		ClientDataHash:   clientDataHash,
		PubKeyCredParams: []fido.PubKeyCredParam{{Type: "public-key", Alg: fido.ES256}},
		UserVerification: fido.UVPreferred,
	}

	return webauthn.MakeCredential(ctx, ch, req, stdinPinProvider{})
}

// stdinPinProvider prompts on stdin when the authenticator requires a PIN.
// Phone authenticators paired over hybrid transport almost always satisfy
// user verification on-device, so this is only exercised as a fallback.
type stdinPinProvider struct{}

func (stdinPinProvider) ProvidePin() (string, error) {
	fmt.Print("Enter authenticator PIN: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading PIN from stdin: %w", err)
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

var logFileHandle *os.File

// setupLogFile creates log directory and redirects log output to log/latest.log
func setupLogFile() error {
	logDir := "log"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	logFile := filepath.Join(logDir, "latest.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	logFileHandle = file

	log.SetOutput(io.MultiWriter(file, os.Stdout))
	log.Printf("=== ctap2-hybrid log started %s ===", time.Now().Format(time.RFC3339))
	return nil
}
