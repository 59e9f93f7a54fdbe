package supplier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/telemetry"
)

// maxTargetDocumentSize caps how much of a response body is read.
const maxTargetDocumentSize = 4 << 20

// Poller periodically fetches the device's target document from the control
// plane. Conditional requests with ETag keep steady-state polls cheap; the
// control plane answers 304 until the target changes.
type Poller struct {
	client   *http.Client
	url      string
	interval time.Duration
	parser   *Parser
	handler  Handler
	metrics  *telemetry.Metrics
	logger   zerolog.Logger

	etag string
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerMetrics attaches a metrics collector.
func WithPollerMetrics(m *telemetry.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithPollerLogger sets the logger.
func WithPollerLogger(logger zerolog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a poller for one device against a control plane base URL.
func NewPoller(baseURL, deviceUUID string, interval, timeout time.Duration, parser *Parser, handler Handler, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   &http.Client{Timeout: timeout},
		url:      fmt.Sprintf("%s/v1/devices/%s/target", baseURL, deviceUUID),
		interval: interval,
		parser:   parser,
		handler:  handler,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "target-poller").Logger()
	return p
}

// Run polls until the context is cancelled. The first poll happens
// immediately so a restarted device converges without waiting an interval.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().
		Str("url", p.url).
		Dur("interval", p.interval).
		Msg("Target polling started")

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Target polling stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	target, changed, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Target fetch failed, keeping last known target")
		return
	}
	if !changed {
		return
	}

	p.logger.Info().
		Int("sensors", len(target.States[engine.KindSensor])).
		Int("containers", len(target.States[engine.KindContainer])).
		Msg("New target received from control plane")
	p.handler.HandleTarget(target)
}

// fetch performs one conditional request. changed is false on 304.
func (p *Poller) fetch(ctx context.Context) (target *Target, changed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	if p.etag != "" {
		req.Header.Set("If-None-Match", p.etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.RecordTargetFetch("http", "error")
		return nil, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		p.metrics.RecordTargetFetch("http", "not_modified")
		return nil, false, nil
	case http.StatusOK:
	default:
		p.metrics.RecordTargetFetch("http", "error")
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTargetDocumentSize))
	if err != nil {
		p.metrics.RecordTargetFetch("http", "error")
		return nil, false, fmt.Errorf("failed to read response: %w", err)
	}

	target, err = p.parser.Parse(body, "control-plane")
	if err != nil {
		p.metrics.RecordTargetFetch("http", "invalid")
		return nil, false, err
	}

	p.etag = resp.Header.Get("ETag")
	p.metrics.RecordTargetFetch("http", "success")
	return target, true, nil
}
