package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

// BLETransport discovers the car on the default Bluetooth adapter and writes
// commands to one characteristic, waiting for the write acknowledgement.
type BLETransport struct {
	adapter        *bluetooth.Adapter
	characteristic bluetooth.UUID

	enableOnce sync.Once
	enableErr  error
}

// NewBLETransport returns a transport writing to the characteristic with the
// given UUID.
func NewBLETransport(characteristic string) (*BLETransport, error) {
	uuid, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristic, err)
	}
	return &BLETransport{adapter: bluetooth.DefaultAdapter, characteristic: uuid}, nil
}

func (t *BLETransport) enable() error {
	t.enableOnce.Do(func() {
		t.enableErr = t.adapter.Enable()
	})
	return t.enableErr
}

// Discover scans for up to timeout for a device advertising name, connects
// to it and resolves the command characteristic.
func (t *BLETransport) Discover(ctx context.Context, name string, timeout time.Duration) (Conn, error) {
	if err := t.enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		found   bluetooth.Address
		matched bool
		mu      sync.Mutex
	)
	go func() {
		<-scanCtx.Done()
		_ = t.adapter.StopScan()
	}()
	err := t.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if r.LocalName() != name {
			return
		}
		mu.Lock()
		found, matched = r.Address, true
		mu.Unlock()
		cancel()
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !matched {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %q within %v", ErrNotFound, name, timeout)
	}
	monitoring.Logf("[actuator] found %q at %s", name, found.String())

	device, err := t.adapter.Connect(found, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", found.String(), err)
	}
	char, err := t.resolve(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return &bleConn{device: device, char: char}, nil
}

// resolve walks every service for the command characteristic. Some firmware
// exposes the characteristic under a service sharing its UUID, so no service
// filter is applied.
func (t *BLETransport) resolve(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service discovery: %w", err)
	}
	want := strings.ToLower(t.characteristic.String())
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			if strings.ToLower(c.UUID().String()) == want {
				return c, nil
			}
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", want)
}

// gattWriter is the acknowledged write of bluetooth.DeviceCharacteristic.
type gattWriter interface {
	Write(p []byte) (int, error)
}

type bleConn struct {
	device bluetooth.Device
	char   gattWriter
}

// WriteByte writes one command byte with response, so a rejected or lost
// write fails the maneuver step.
func (c *bleConn) WriteByte(b byte) error {
	n, err := c.char.Write([]byte{b})
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("short write: %d of 1 bytes", n)
	}
	return nil
}

func (c *bleConn) Close() error {
	return c.device.Disconnect()
}
