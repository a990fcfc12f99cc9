// Package printer tracks the connection to a Phomemo thermal printer and
// sends it banners once connected.
package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
)

const DefaultTimeout = 5 * time.Second

var (
	// ErrInvalidTransition is returned when an action isn't allowed from the
	// current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid printer state transition")
	ErrNotConnected      = errors.New("printer is not connected")
)

type Options struct {
	// Timeout bounds a connection attempt, after which the machine fails
	Timeout time.Duration
	Logger  *slog.Logger
}

type observer struct {
	id int
	fn func(State)
}

// stateChange is one transition waiting to be delivered
type stateChange struct {
	from, to  State
	observers []observer
}

// Machine is the single source of truth for the printer connection state.
//
// Observers are called synchronously, in transition order, and must not
// change the machine's state themselves.
type Machine struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	observers []observer
	nextID    int
	// generation of the current connection attempt
	attempt       uint64
	cancelAttempt context.CancelFunc
	lastErr       error
	// transitions not yet delivered, in order
	pending []stateChange

	// held while delivering, never taken with mu held
	notifyMu sync.Mutex
	printMu  sync.Mutex
}

func NewMachine(t Transport, opts Options) *Machine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Machine{
		transport: t,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		state:     Idle,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns why the most recent connection attempt failed, if it did
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Info returns the transport's device details when it reports them
func (m *Machine) Info() (DeviceInfo, bool) {
	if r, ok := m.transport.(InfoReporter); ok {
		return r.Info(), true
	}
	return DeviceInfo{}, false
}

// Subscribe registers fn to be called with every new state. The returned
// function removes it again.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, observer{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// transition must be called with mu held; it releases mu and notifies the
// observers before returning
func (m *Machine) transition(to State) {
	n := stateChange{from: m.state, to: to, observers: make([]observer, len(m.observers))}
	copy(n.observers, m.observers)
	m.state = to
	m.pending = append(m.pending, n)
	m.mu.Unlock()

	m.deliver()
}

// deliver drains the pending notifications. Whoever holds notifyMu delivers
// everything queued so far, so by the time deliver returns the caller's own
// transition has been seen by every observer.
func (m *Machine) deliver() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		n := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.logger.Info("Printer state changed", "from", n.from, "to", n.to)
		for _, o := range n.observers {
			o.fn(n.to)
		}
	}
}

func invalid(action string, s State) error {
	return fmt.Errorf("Couldn't %s printer while %s:\n%w", action, s, ErrInvalidTransition)
}

// Connect starts a connection attempt. The machine is Connecting by the time
// Connect returns, and every observer has already been told. The attempt
// itself runs in the background and ends Connected, or Failed on error or
// timeout. Only allowed from Idle or Failed.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle && m.state != Failed {
		err := invalid("connect", m.state)
		m.mu.Unlock()
		return err
	}

	m.attempt++
	attempt := m.attempt
	// the attempt outlives the caller, only the timeout and Disconnect end it
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	m.cancelAttempt = cancel
	m.lastErr = nil
	m.transition(Connecting)

	go m.runAttempt(attemptCtx, cancel, attempt)
	return nil
}

func (m *Machine) runAttempt(ctx context.Context, cancel context.CancelFunc, attempt uint64) {
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- m.transport.Connect(ctx)
	}()

	var err error
	select {
	case err = <-result:
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
			if dErr := m.transport.Disconnect(); dErr != nil {
				m.logger.Error("Couldn't disconnect printer", "error", dErr)
			}
		}
	case <-ctx.Done():
		err = ctx.Err()
		// the transport may still connect later, tidy it up if it does
		go func() {
			if lateErr := <-result; lateErr == nil {
				m.logger.Info("Printer connected after the attempt ended, disconnecting")
				if err := m.transport.Disconnect(); err != nil {
					m.logger.Error("Couldn't disconnect printer", "error", err)
				}
			}
		}()
	}

	m.mu.Lock()
	if m.attempt != attempt || m.state != Connecting {
		// superseded by Disconnect
		m.mu.Unlock()
		if err == nil {
			if err := m.transport.Disconnect(); err != nil {
				m.logger.Error("Couldn't disconnect printer", "error", err)
			}
		}
		return
	}
	m.cancelAttempt = nil

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("Couldn't connect to printer within %v:\n%w", m.timeout, err)
		}
		m.logger.Error("Couldn't connect to printer", "error", err)
		m.lastErr = err
		m.transition(Failed)
		return
	}
	m.transition(Connected)
}

// Disconnect closes the connection, or abandons an attempt in progress
func (m *Machine) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case Connecting:
		m.attempt++
		if m.cancelAttempt != nil {
			m.cancelAttempt()
			m.cancelAttempt = nil
		}
		m.transition(Idle)
		return nil
	case Connected:
		m.transition(Idle)
		if err := m.transport.Disconnect(); err != nil {
			m.logger.Error("Couldn't disconnect printer", "error", err)
			return fmt.Errorf("Couldn't disconnect printer:\n%w", err)
		}
		return nil
	}
	err := invalid("disconnect", m.state)
	m.mu.Unlock()
	return err
}

// Reset clears a failed attempt back to Idle
func (m *Machine) Reset() error {
	m.mu.Lock()
	if m.state != Failed {
		err := invalid("reset", m.state)
		m.mu.Unlock()
		return err
	}
	m.lastErr = nil
	m.transition(Idle)
	return nil
}

// TransportLost records that the device went away on its own
func (m *Machine) TransportLost() {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("Printer connection lost")
	m.transition(Idle)
}

// Print sends a committed banner to the printer. Prints are serialised.
func (m *Machine) Print(ctx context.Context, b *bitmap.PackedBitmap, level banner.DensityLevel) error {
	if m.State() != Connected {
		return ErrNotConnected
	}

	m.printMu.Lock()
	defer m.printMu.Unlock()

	// the connection may have gone while waiting for the previous print
	if m.State() != Connected {
		return ErrNotConnected
	}

	intensity := density.Intensity(level)
	m.logger.Info("Printing banner", "width", b.Width(), "height", b.Height(), "intensity", intensity)
	if err := m.transport.Print(ctx, b, intensity); err != nil {
		return fmt.Errorf("Couldn't print banner:\n%w", err)
	}
	return nil
}
