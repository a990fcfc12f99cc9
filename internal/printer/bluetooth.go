package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
)

const DefaultDeviceName = "T02"

type characteristic byte

const (
	serviceCharacteristic  characteristic = 0x00
	writerCharacteristic   characteristic = 0x02
	notifierCharacteristic characteristic = 0x03
)

// 0000ffXX-0000-1000-8000-00805f9b34fb
func getUUID(c characteristic) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte{
		0x00, 0x00, 0xff, byte(c), 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
	})
}

var ErrDeviceNotFound = errors.New("no printer found")

// BluetoothTransport talks to a single Phomemo printer over BLE, found by
// its advertised name. It assumes it is the only user of the adapter.
type BluetoothTransport struct {
	name    string
	adapter *bluetooth.Adapter
	logger  *slog.Logger
	// called when the device drops without Disconnect being asked for
	onLost func()

	enableOnce sync.Once
	enableErr  error

	mu      sync.Mutex
	device  bluetooth.Device
	address bluetooth.Address
	session *session
}

func NewBluetoothTransport(name string, logger *slog.Logger) *BluetoothTransport {
	if name == "" {
		name = DefaultDeviceName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BluetoothTransport{
		name:    name,
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
	}
}

// OnLost sets the function called when the printer disconnects by itself
func (t *BluetoothTransport) OnLost(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLost = fn
}

func (t *BluetoothTransport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("Couldn't enable Bluetooth:\n%w", err)
			return
		}
		t.adapter.SetConnectHandler(t.connectionChanged)
	})
	return t.enableErr
}

func (t *BluetoothTransport) connectionChanged(d bluetooth.Device, connected bool) {
	if connected {
		t.logger.Debug("Bluetooth device connected")
		return
	}

	t.mu.Lock()
	s := t.session
	if s == nil || d.Address != t.address {
		t.mu.Unlock()
		t.logger.Debug("Disconnect event for a device we aren't connected to")
		return
	}
	t.session = nil
	onLost := t.onLost
	t.mu.Unlock()

	t.logger.Info("Printer disconnected")
	s.close()
	if onLost != nil {
		onLost()
	}
}

func (t *BluetoothTransport) Info() DeviceInfo {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	if s == nil {
		return DeviceInfo{}
	}
	return s.Info()
}

// scan looks for the printer by name until it is found or ctx is done
func (t *BluetoothTransport) scan(ctx context.Context) (bluetooth.Address, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() == t.name {
				t.logger.Info("Found device", "deviceName", result.LocalName())
				select {
				case found <- result:
				default:
				}
				adapter.StopScan()
			}
		})
		scanErr <- err
	}()

	select {
	case dev := <-found:
		return dev.Address, nil
	case err := <-scanErr:
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("Couldn't scan for devices:\n%w", err)
		}
		// the scan may have stopped because the device was found
		select {
		case dev := <-found:
			return dev.Address, nil
		default:
		}
		return bluetooth.Address{}, ErrDeviceNotFound
	case <-ctx.Done():
		t.adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("Couldn't find %q:\n%w", t.name, ctx.Err())
	}
}

// Connect finds the printer, connects and waits for it to report ready
func (t *BluetoothTransport) Connect(ctx context.Context) error {
	if err := t.enable(); err != nil {
		return err
	}

	address, err := t.scan(ctx)
	if err != nil {
		return err
	}

	t.logger.Debug("Connecting to device...")
	device, err := t.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("Couldn't connect to device:\n%w", err)
	}

	writer, notifier, err := discover(device)
	if err != nil {
		device.Disconnect()
		return err
	}

	s := newSession(func(data []byte) error {
		_, err := writer.WriteWithoutResponse(data)
		if err != nil {
			return err
		}
		t.logger.Debug("Wrote data to device", "size", len(data))
		return nil
	}, t.logger)

	t.mu.Lock()
	t.device, t.address, t.session = device, address, s
	t.mu.Unlock()

	// notifications carry the ready signal, battery info etc
	if err := notifier.EnableNotifications(s.handle); err != nil {
		t.drop(s)
		return fmt.Errorf("Couldn't enable notifications:\n%w", err)
	}

	if err := s.waitReady(ctx); err != nil {
		t.drop(s)
		return err
	}
	return nil
}

func discover(device bluetooth.Device) (bluetooth.DeviceCharacteristic, bluetooth.DeviceCharacteristic, error) {
	var none bluetooth.DeviceCharacteristic

	services, err := device.DiscoverServices([]bluetooth.UUID{getUUID(serviceCharacteristic)})
	if err != nil {
		return none, none, fmt.Errorf("Couldn't discover service:\n%w", err)
	}
	if len(services) == 0 {
		return none, none, fmt.Errorf("Printer service not found")
	}

	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		getUUID(writerCharacteristic),
		getUUID(notifierCharacteristic),
	})
	if err != nil {
		return none, none, fmt.Errorf("Couldn't discover characteristics:\n%w", err)
	}
	if len(characteristics) < 2 {
		return none, none, fmt.Errorf("Printer characteristics not found")
	}
	return characteristics[0], characteristics[1], nil
}

// drop forgets the session and disconnects the device it belongs to
func (t *BluetoothTransport) drop(s *session) error {
	t.mu.Lock()
	if t.session != s {
		t.mu.Unlock()
		return nil
	}
	t.session = nil
	device := t.device
	t.mu.Unlock()

	s.close()
	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("Couldn't disconnect from device:\n%w", err)
	}
	return nil
}

func (t *BluetoothTransport) Disconnect() error {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	return t.drop(s)
}

func (t *BluetoothTransport) Print(ctx context.Context, b *bitmap.PackedBitmap, intensity density.LaserIntensity) error {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.print(ctx, b, intensity)
}
