package printer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
)

const statusPollInterval = 10 * time.Second

// The printer sometimes sends an early "finished" right after the raster is
// written as well as the real one once printing ends. Waiting a little before
// listening skips the early one; printing anything takes well over a second.
const spuriousFinishDelay = 100 * time.Millisecond

// session speaks the Phomemo protocol over a connected device. It knows
// nothing about how bytes reach the printer.
type session struct {
	write        func([]byte) error
	logger       *slog.Logger
	pollInterval time.Duration

	mu   sync.Mutex
	info DeviceInfo
	// closed once the first paper status arrives after connecting
	ready     chan struct{}
	readyOnce sync.Once
	pollOnce  sync.Once
	finished  chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func newSession(write func([]byte) error, logger *slog.Logger) *session {
	return &session{
		write:        write,
		logger:       logger,
		pollInterval: statusPollInterval,
		ready:        make(chan struct{}),
		finished:     make(chan struct{}),
		stop:         make(chan struct{}),
	}
}

func (s *session) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// handle is the notifier callback
func (s *session) handle(d []byte) {
	s.mu.Lock()
	kind := parseNotification(d, &s.info, s.logger)
	s.mu.Unlock()

	switch kind {
	case readyNotification:
		s.logger.Info("Printer ready for printing")
		s.pollStatus()
		// the printer may announce itself more than once
		s.pollOnce.Do(func() { go s.pollPeriodically() })
	case paperNotification:
		s.readyOnce.Do(func() { close(s.ready) })
	case finishedNotification:
		select {
		case s.finished <- struct{}{}:
			// unblocks print if it is waiting for the printer to finish
		default:
		}
	}
}

func (s *session) pollStatus() {
	s.logger.Debug("Polling device status")
	if err := s.write(statusQuery()); err != nil {
		s.logger.Error("Couldn't poll status", "error", err)
	}
}

func (s *session) pollPeriodically() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pollStatus()
		case <-s.stop:
			return
		}
	}
}

// waitReady blocks until the printer has reported its paper status
func (s *session) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.stop:
		return fmt.Errorf("Printer disconnected before becoming ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) print(ctx context.Context, b *bitmap.PackedBitmap, intensity density.LaserIntensity) error {
	if !s.Info().PaperLoaded {
		return fmt.Errorf("Printer is out of paper")
	}
	data, err := printJob(b, intensity)
	if err != nil {
		return err
	}
	if err := s.write(data); err != nil {
		return fmt.Errorf("Couldn't write banner to printer:\n%w", err)
	}

	select {
	case <-time.After(spuriousFinishDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Waiting for printer to finish printing")
	select {
	case <-s.finished:
		s.logger.Info("Printer finished printing")
		return nil
	case <-s.stop:
		return fmt.Errorf("Printer disconnected while printing")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
