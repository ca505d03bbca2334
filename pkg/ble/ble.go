package ble

import (
	"context"
	"fmt"
	"log"
	"time"

	"tinygo.org/x/bluetooth"

	"ctap-authenticator/pkg/fido"
)

// CTAP BLE constants, from the FIDO2 GATT service and caBLE v2 hybrid
// transport specifications.
const (
	FIDOServiceUUID  = "0000fffd-0000-1000-8000-00805f9b34fb"
	CableServiceUUID = "0000fff9-0000-1000-8000-00805f9b34fb"
)

// TunnelInfo is the tunnel-service information recovered from a caBLE v2
// BLE advertisement: where to dial the tunnel server and the proof-of-
// proximity material needed to complete the handshake.
type TunnelInfo struct {
	TunnelURL           string
	ConnectionNonce     []byte // connection nonce, proves proximity
	RoutingID           []byte // 3-byte routing ID
	TunnelServiceID     []byte // 2-byte tunnel service identifier
	EncodedTunnelDomain uint16
}

// Scanner scans for a caBLE v2 BLE advertisement matching a QR secret.
type Scanner struct {
	qrSecret []byte
	adapter  *bluetooth.Adapter
}

// NewScanner creates a scanner bound to the 16-byte QR secret shown to the
// user, and enables the local Bluetooth adapter.
func NewScanner(qrSecret []byte) (*Scanner, error) {
	if len(qrSecret) != 16 {
		return nil, fido.NewProtocolError(fmt.Sprintf("QR secret must be 16 bytes, got %d", len(qrSecret)))
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fido.NewTransportError(fido.TransportUnavailable, "enabling BLE adapter: "+err.Error())
	}

	return &Scanner{
		qrSecret: qrSecret,
		adapter:  adapter,
	}, nil
}

// WaitForTunnelAdvertisement scans for a BLE advertisement carrying FIDO or
// caBLE service data that decrypts against this scanner's QR secret, and
// returns the tunnel information it encodes.
func (s *Scanner) WaitForTunnelAdvertisement(ctx context.Context) (*TunnelInfo, error) {
	tunnelInfoChan := make(chan *TunnelInfo, 1)
	scanErrChan := make(chan error, 1)
	scanDoneChan := make(chan struct{}, 1)

	fidoServiceUUID, err := bluetooth.ParseUUID(FIDOServiceUUID)
	if err != nil {
		return nil, fido.NewProtocolError("parsing FIDO service UUID: " + err.Error())
	}
	cableServiceUUID, err := bluetooth.ParseUUID(CableServiceUUID)
	if err != nil {
		return nil, fido.NewProtocolError("parsing caBLE service UUID: " + err.Error())
	}

	go func() {
		defer func() {
			s.adapter.StopScan()
			close(scanDoneChan)
		}()

		go func() {
			<-ctx.Done()
			s.adapter.StopScan()
		}()

		err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-ctx.Done():
				return
			default:
			}

			hasFIDO := result.AdvertisementPayload.HasServiceUUID(fidoServiceUUID)
			hasCable := result.AdvertisementPayload.HasServiceUUID(cableServiceUUID)
			if !hasFIDO && !hasCable {
				return
			}

			if s.processTunnelAdvertisement(result, tunnelInfoChan) {
				log.Printf("ble: received tunnel advertisement from %s", result.Address.String())
			}
		})
		if err != nil {
			select {
			case scanErrChan <- fido.NewTransportError(fido.TransportUnavailable, "BLE scan: "+err.Error()):
			case <-ctx.Done():
			}
		}
	}()

	select {
	case tunnelInfo := <-tunnelInfoChan:
		return tunnelInfo, nil
	case err := <-scanErrChan:
		return nil, err
	case <-ctx.Done():
		select {
		case <-scanDoneChan:
		case <-time.After(2 * time.Second):
		}
		return nil, fido.NewTransportError(fido.Timeout, "waiting for tunnel advertisement: "+ctx.Err().Error())
	}
}

// processTunnelAdvertisement inspects a scan result's service data for
// caBLE v2 payload and, if it decrypts against the scanner's QR secret,
// publishes the resulting TunnelInfo to tunnelInfoChan.
func (s *Scanner) processTunnelAdvertisement(result bluetooth.ScanResult, tunnelInfoChan chan *TunnelInfo) bool {
	cableServiceUUID, _ := bluetooth.ParseUUID(CableServiceUUID)
	fidoServiceUUID, _ := bluetooth.ParseUUID(FIDOServiceUUID)

	var serviceData []byte
	for _, entry := range result.AdvertisementPayload.ServiceData() {
		if entry.UUID == cableServiceUUID || entry.UUID == fidoServiceUUID {
			serviceData = entry.Data
			break
		}
	}
	if len(serviceData) < cableV2AdvertLength {
		return false
	}

	return s.tryDecryptCableData(serviceData, tunnelInfoChan)
}

// getTunnelURL maps the 2-byte tunnel service identifier from the
// advertisement to the tunnel server domain it designates.
func (s *Scanner) getTunnelURL(tunnelService []byte) string {
	if len(tunnelService) >= 1 && tunnelService[0] == 0x01 {
		return "cable.auth.com"
	}
	return "cable.ua5v.com"
}

// tryDecryptCableData attempts caBLE v2 decryption of a candidate
// advertisement's service data, publishing a TunnelInfo on success.
func (s *Scanner) tryDecryptCableData(data []byte, tunnelInfoChan chan *TunnelInfo) bool {
	decryptor := NewCableV2Decryptor(s.qrSecret)
	decryptedData, err := decryptor.DecryptServiceData(data)
	if err != nil {
		return false
	}

	nonce, routingID, tunnelService, err := ParseDecryptedServiceData(decryptedData)
	if err != nil {
		return false
	}

	var encodedTunnelDomain uint16
	if len(tunnelService) >= 2 {
		encodedTunnelDomain = uint16(tunnelService[0]) | uint16(tunnelService[1])<<8
	}

	tunnelInfo := &TunnelInfo{
		TunnelURL:           s.getTunnelURL(tunnelService),
		ConnectionNonce:     nonce,
		RoutingID:           routingID,
		TunnelServiceID:     tunnelService,
		EncodedTunnelDomain: encodedTunnelDomain,
	}

	select {
	case tunnelInfoChan <- tunnelInfo:
		return true
	default:
		return false
	}
}
