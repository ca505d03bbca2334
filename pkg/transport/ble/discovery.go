package ble

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"ctap-authenticator/pkg/transport"
)

// Descriptor identifies one scanned BLE peripheral advertising the FIDO2
// GATT service.
type Descriptor struct {
	Address   bluetooth.Address
	LocalName string
}

func (d Descriptor) String() string {
	if d.LocalName != "" {
		return fmt.Sprintf("%s (%s)", d.LocalName, d.Address.String())
	}
	return d.Address.String()
}

// Discovery implements transport.Discovery over classic BLE GATT scanning,
// in the manner of the teacher's Scanner (pkg/ble.Scanner) but filtering on
// the FIDO2 service UUID instead of caBLE advertisement payloads.
type Discovery struct {
	adapter *bluetooth.Adapter
}

// NewDiscovery enables the platform's default Bluetooth adapter.
func NewDiscovery() (*Discovery, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enabling adapter: %w", err)
	}
	return &Discovery{adapter: adapter}, nil
}

// ListDevices scans for scanTimeout (or until ctx is cancelled) and returns
// every peripheral that advertised the FIDO2 GATT service UUID.
func (d *Discovery) ListDevices(ctx context.Context) ([]transport.DeviceDescriptor, error) {
	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parsing service UUID: %w", err)
	}

	const scanTimeout = 10 * time.Second
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	seen := map[string]bool{}
	var found []transport.DeviceDescriptor

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := result.Address.String()
			if seen[addr] {
				return
			}
			if !result.AdvertisementPayload.HasServiceUUID(serviceUUID) {
				return
			}
			seen[addr] = true
			found = append(found, Descriptor{Address: result.Address, LocalName: result.AdvertisementPayload.LocalName()})
		})
	}()

	select {
	case <-scanCtx.Done():
		d.adapter.StopScan()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("ble: scanning: %w", err)
		}
	}

	return found, nil
}

// Open connects to d and returns a ready Channel.
func (dis *Discovery) Open(ctx context.Context, d transport.DeviceDescriptor) (transport.Channel, error) {
	desc, ok := d.(Descriptor)
	if !ok {
		return nil, fmt.Errorf("ble: %T is not a ble.Descriptor", d)
	}
	return Dial(dis.adapter, desc.Address)
}

var _ transport.Discovery = (*Discovery)(nil)
