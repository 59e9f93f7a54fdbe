package supplier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/telemetry"
)

// Options configures a Supplier. At least one of ControlPlaneURL and
// TargetFile must be set.
type Options struct {
	// ControlPlaneURL is the base URL of the control plane. Empty disables
	// polling.
	ControlPlaneURL string

	// DeviceUUID identifies this device in control-plane URLs.
	DeviceUUID string

	// PollInterval is the control-plane polling period.
	PollInterval time.Duration

	// PollTimeout bounds a single poll request.
	PollTimeout time.Duration

	// TargetFile is a local target document that overrides the control
	// plane while it exists. Empty disables the file source.
	TargetFile string

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Logger defaults to a nop logger.
	Logger zerolog.Logger
}

// Supplier feeds validated targets from the configured sources to a single
// handler. While the local target file exists its content wins; control-plane
// targets are held back until the file is removed, at which point the next
// poll reasserts the cloud-declared state.
type Supplier struct {
	handler Handler
	logger  zerolog.Logger

	poller *Poller
	file   *FileSource

	mu             sync.Mutex
	overrideActive bool
}

// New creates a Supplier from options.
func New(opts Options, handler Handler) (*Supplier, error) {
	if opts.ControlPlaneURL == "" && opts.TargetFile == "" {
		return nil, fmt.Errorf("supplier needs a control plane URL, a target file, or both")
	}

	parser, err := NewParser()
	if err != nil {
		return nil, err
	}

	s := &Supplier{
		handler: handler,
		logger:  opts.Logger.With().Str("component", "supplier").Logger(),
	}

	if opts.ControlPlaneURL != "" {
		s.poller = NewPoller(
			opts.ControlPlaneURL, opts.DeviceUUID,
			opts.PollInterval, opts.PollTimeout,
			parser, HandlerFunc(s.handleCloudTarget),
			WithPollerMetrics(opts.Metrics),
			WithPollerLogger(opts.Logger),
		)
	}

	if opts.TargetFile != "" {
		s.file = NewFileSource(
			opts.TargetFile, parser, HandlerFunc(s.handleFileTarget),
			WithFileMetrics(opts.Metrics),
			WithFileLogger(opts.Logger),
			WithOnRemoved(s.clearOverride),
		)
	}

	return s, nil
}

// Run starts the configured sources and blocks until the context is
// cancelled. The local file, if present, is loaded before polling begins so
// an override survives a daemon restart.
func (s *Supplier) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.file != nil {
		if err := s.file.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Initial target file load failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.file.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Target file watch stopped")
			}
		}()
	}

	if s.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.poller.Run(ctx)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (s *Supplier) handleFileTarget(target *Target) {
	s.mu.Lock()
	if !s.overrideActive {
		s.logger.Info().Msg("Local target file overrides the control plane")
	}
	s.overrideActive = true
	s.mu.Unlock()

	s.handler.HandleTarget(target)
}

func (s *Supplier) handleCloudTarget(target *Target) {
	s.mu.Lock()
	override := s.overrideActive
	s.mu.Unlock()

	if override {
		s.logger.Debug().Msg("Control-plane target held back by local override")
		return
	}
	s.handler.HandleTarget(target)
}

func (s *Supplier) clearOverride() {
	s.mu.Lock()
	was := s.overrideActive
	s.overrideActive = false
	s.mu.Unlock()

	if was {
		s.logger.Info().Msg("Local override lifted, control plane target applies on next poll")
	}
}
