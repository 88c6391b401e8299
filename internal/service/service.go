// Package service reference-counts a startable capability: the first holder
// starts it and the last one to let go stops it.
package service

import (
	"sync"

	"github.com/rs/zerolog"
)

// Lifecycle is what a Service starts and stops. capture.Collector satisfies it.
type Lifecycle interface {
	Start()
	Stop()
}

// Service counts holders of a Lifecycle.
type Service struct {
	name string
	lc   Lifecycle
	log  zerolog.Logger

	mu       sync.Mutex
	refs     int
	onChange func(refs int)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// OnChange registers fn to run after every reference count change.
func OnChange(fn func(refs int)) Option {
	return func(s *Service) {
		s.onChange = fn
	}
}

// New wraps lc.
func New(name string, lc Lifecycle, opts ...Option) *Service {
	s := &Service{
		name: name,
		lc:   lc,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("service", name).Logger()
	return s
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Refs returns the current holder count.
func (s *Service) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Acquire adds a holder, starting the lifecycle on the first one.
func (s *Service) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs++
	if s.refs == 1 {
		s.log.Debug().Msg("Starting service")
		s.lc.Start()
	}
	s.notify()
}

// Release drops a holder, stopping the lifecycle when none remain. Releasing
// an unheld service does nothing.
func (s *Service) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.log.Debug().Msg("Stopping service")
		s.lc.Stop()
	}
	s.notify()
}

// notify requires mu.
func (s *Service) notify() {
	if s.onChange != nil {
		s.onChange(s.refs)
	}
}

// Handle holds at most one reference at a time.
type Handle struct {
	mu  sync.Mutex
	svc *Service
}

// Service returns the held service, or nil.
func (h *Handle) Service() *Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc
}

// Set releases the held service and acquires svc. Setting the held service
// again, or nil, behaves as expected.
func (h *Handle) Set(svc *Service) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.svc == svc {
		return
	}
	if h.svc != nil {
		h.svc.Release()
	}
	h.svc = svc
	if svc != nil {
		svc.Acquire()
	}
}

// Close releases the held service.
func (h *Handle) Close() {
	h.Set(nil)
}
