package printer

import (
	"bytes"
	"fmt"
	"log/slog"
)

type notification int

const (
	unknownNotification notification = iota
	readyNotification
	finishedNotification
	infoNotification
	batteryNotification
	firmwareNotification
	paperNotification
	ackNotification
)

func hasPrefix(d []byte, p ...byte) bool {
	return len(d) >= len(p) && bytes.Equal(d[:len(p)], p)
}

// parseNotification classifies data received from the printer's notifier
// characteristic, updating info with anything it reports about itself
func parseNotification(d []byte, info *DeviceInfo, logger *slog.Logger) notification {
	switch {
	case hasPrefix(d, 0x02, 0xb6, 0x00):
		return readyNotification
	case hasPrefix(d, 0x1a, 0x0f, 0x0c):
		return finishedNotification
	case hasPrefix(d, 0x1a, 0x3b, 0x04):
		// only seen this with later firmware versions
		logger.Debug("Printer info", "info", fmt.Sprintf("%x", d[3:]))
		return infoNotification
	case hasPrefix(d, 0x1a, 0x04) && len(d) >= 3:
		info.BatteryLevel = int(d[2])
		return batteryNotification
	case hasPrefix(d, 0x1a, 0x07) && len(d) >= 5:
		info.FirmwareVersion = fmt.Sprintf("%v.%v.%v", d[2], d[3], d[4])
		return firmwareNotification
	case hasPrefix(d, 0x1a, 0x06) && len(d) >= 3 && (d[2] == 0x88 || d[2] == 0x89):
		info.PaperLoaded = d[2]&1 == 1
		return paperNotification
	case hasPrefix(d, 0x01, 0x01):
		logger.Debug("Read command successfully")
		return ackNotification
	}
	logger.Info("Received unknown notification", "data", fmt.Sprintf("%x", d))
	return unknownNotification
}
