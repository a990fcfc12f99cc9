package printer

import (
	"context"
	"errors"

	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
)

// Transport carries bitmaps to a physical printer. Connect blocks until the
// printer is ready to print or ctx is done.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Print(ctx context.Context, b *bitmap.PackedBitmap, intensity density.LaserIntensity) error
}

// DeviceInfo is what the printer last reported about itself
type DeviceInfo struct {
	BatteryLevel    int    `json:"batteryLevel"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	PaperLoaded     bool   `json:"paperLoaded"`
}

// InfoReporter is implemented by transports that can report device details
type InfoReporter interface {
	Info() DeviceInfo
}

var ErrNoTransport = errors.New("printing is disabled")

// NoTransport is used when the server runs without a Bluetooth adapter.
// Every connection attempt fails.
type NoTransport struct{}

func (NoTransport) Connect(ctx context.Context) error {
	return ErrNoTransport
}

func (NoTransport) Disconnect() error {
	return nil
}

func (NoTransport) Print(ctx context.Context, b *bitmap.PackedBitmap, intensity density.LaserIntensity) error {
	return ErrNoTransport
}
