package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/vela-audio/internal/audio"
	"github.com/petems/vela-audio/internal/capture"
	"github.com/petems/vela-audio/internal/config"
	"github.com/petems/vela-audio/internal/service"
	"github.com/rs/zerolog"
)

type Config struct {
	Backend audio.Backend
	Config  *config.Config
	Logger  zerolog.Logger
}

// App owns the capture pipeline and keeps the persisted config in step with it.
type App struct {
	backend audio.Backend
	cfg     *config.Config
	log     zerolog.Logger

	collector *capture.Collector
	svc       *service.Service

	mu       sync.Mutex
	shutdown bool
}

func New(cfg Config) *App {
	cc := cfg.Config.Capture
	collector := capture.New(cfg.Backend,
		capture.WithLogger(cfg.Logger),
		capture.WithConfig(capture.Config{
			SampleRate: cc.SampleRate,
			ChunkSize:  cc.ChunkSize,
			Node:       cc.DeviceNode,
		}),
	)

	a := &App{
		backend:   cfg.Backend,
		cfg:       cfg.Config,
		log:       cfg.Logger,
		collector: collector,
	}
	a.svc = service.New("capture", collector,
		service.WithLogger(cfg.Logger),
		service.OnChange(func(refs int) {
			a.log.Debug().Int("refs", refs).Msg("Capture holders changed")
		}),
	)
	return a
}

// Collector exposes the read side of the pipeline to consumers.
func (a *App) Collector() *capture.Collector {
	return a.collector
}

// Acquire registers a consumer, starting capture for the first one. Closing
// the returned handle releases it; capture stops after the last one.
func (a *App) Acquire() (*service.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return nil, fmt.Errorf("app is shut down")
	}
	h := &service.Handle{}
	h.Set(a.svc)
	return h, nil
}

// Holders returns the number of active consumers.
func (a *App) Holders() int {
	return a.svc.Refs()
}

// Settings

func (a *App) SetDevice(id audio.NodeID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.collector.SetNodeID(id)
	a.cfg.Capture.DeviceNode = id
	return a.save(func(c *config.Config) { c.Capture.DeviceNode = id })
}

func (a *App) SetSampleRate(hz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.collector.SetSampleRate(hz)
	rate := a.collector.SampleRate()
	a.cfg.Capture.SampleRate = rate
	return a.save(func(c *config.Config) { c.Capture.SampleRate = rate })
}

func (a *App) SetChunkSize(frames int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.collector.SetChunkSize(frames)
	chunk := a.collector.ChunkSize()
	a.cfg.Capture.ChunkSize = chunk
	return a.save(func(c *config.Config) { c.Capture.ChunkSize = chunk })
}

// save writes one setting to the stored config, leaving run-time overrides
// out of it. Requires mu.
func (a *App) save(update func(*config.Config)) error {
	if err := a.cfg.Persist(update); err != nil {
		a.log.Error().Err(err).Str("path", a.cfg.Path()).Msg("Failed to save config")
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (a *App) ListDevices() ([]audio.Device, error) {
	if err := a.backend.Init(); err != nil {
		return nil, fmt.Errorf("init %s: %w", a.backend.Name(), err)
	}
	return a.backend.Devices()
}

// Shutdown stops capture and terminates the backend. If ctx ends first the
// teardown keeps running in the background and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		a.collector.Stop()
		if err := a.collector.LastError(); err != nil {
			a.log.Warn().Err(err).Msg("Capture ended with error")
		}
		done <- a.backend.Terminate()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("terminate %s: %w", a.backend.Name(), err)
		}
		a.log.Info().Msg("Shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
