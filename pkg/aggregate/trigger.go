package aggregate

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultPersistInterval matches the host platform's periodic persist event.
const DefaultPersistInterval = 60 * time.Second

// Trigger delivers external "persist now" signals. Handlers must not block.
type Trigger interface {
	// Register adds a handler and returns a function that removes it.
	Register(handler func()) (unregister func())
	// Close stops signal delivery.
	Close() error
}

// handlers is the registration bookkeeping shared by the triggers.
type handlers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func (h *handlers) register(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fns == nil {
		h.fns = make(map[int]func())
	}

	id := h.nextID
	h.nextID++
	h.fns[id] = fn

	return func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}
}

func (h *handlers) fire() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.fns))

	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ManualTrigger fires only when Fire is called.
type ManualTrigger struct {
	handlers
}

// NewManualTrigger creates a ManualTrigger.
func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{}
}

// Register implements Trigger.
func (m *ManualTrigger) Register(handler func()) func() {
	return m.register(handler)
}

// Fire invokes every registered handler.
func (m *ManualTrigger) Fire() {
	m.fire()
}

// Close implements Trigger.
func (m *ManualTrigger) Close() error {
	return nil
}

// TickerTrigger fires periodically.
type TickerTrigger struct {
	handlers

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

// NewTickerTrigger starts a trigger firing every interval
// (DefaultPersistInterval when interval is not positive).
func NewTickerTrigger(interval time.Duration) *TickerTrigger {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}

	t := &TickerTrigger{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}

	go t.loop()

	return t
}

func (t *TickerTrigger) loop() {
	for {
		select {
		case <-t.ticker.C:
			t.fire()
		case <-t.stop:
			return
		}
	}
}

// Register implements Trigger.
func (t *TickerTrigger) Register(handler func()) func() {
	return t.register(handler)
}

// Close implements Trigger.
func (t *TickerTrigger) Close() error {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})

	return nil
}

// SignalTrigger fires when the process receives one of its signals.
type SignalTrigger struct {
	handlers

	ch   chan os.Signal
	stop chan struct{}
	once sync.Once
}

// NewSignalTrigger listens for sigs (SIGUSR1 when none are given).
func NewSignalTrigger(sigs ...os.Signal) *SignalTrigger {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGUSR1}
	}

	s := &SignalTrigger{
		ch:   make(chan os.Signal, 1),
		stop: make(chan struct{}),
	}

	signal.Notify(s.ch, sigs...)

	go s.loop()

	return s
}

func (s *SignalTrigger) loop() {
	for {
		select {
		case <-s.ch:
			s.fire()
		case <-s.stop:
			return
		}
	}
}

// Register implements Trigger.
func (s *SignalTrigger) Register(handler func()) func() {
	return s.register(handler)
}

// Close implements Trigger.
func (s *SignalTrigger) Close() error {
	s.once.Do(func() {
		signal.Stop(s.ch)
		close(s.stop)
	})

	return nil
}

// MultiTrigger fans registrations out to several triggers.
type MultiTrigger []Trigger

// Register implements Trigger.
func (m MultiTrigger) Register(handler func()) func() {
	unregs := make([]func(), 0, len(m))
	for _, t := range m {
		unregs = append(unregs, t.Register(handler))
	}

	return func() {
		for _, u := range unregs {
			u()
		}
	}
}

// Close implements Trigger.
func (m MultiTrigger) Close() error {
	errs := make([]error, 0, len(m))
	for _, t := range m {
		errs = append(errs, t.Close())
	}

	return errors.Join(errs...)
}
