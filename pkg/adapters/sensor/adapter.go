package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/supplier"
	"github.com/iotistic/supervisor/pkg/telemetry"
)

const defaultModbusPort = 502

// Reading is one scaled measurement from a polled register range.
type Reading struct {
	SensorID  string
	Name      string
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Options configures the sensor adapter.
type Options struct {
	// ConnectTimeout bounds the TCP connect and the verification read.
	ConnectTimeout time.Duration

	// DefaultPollInterval applies to sensors whose spec omits one.
	DefaultPollInterval time.Duration

	// OnReading, when set, receives every measurement from every sensor.
	OnReading func(Reading)

	// Logger defaults to a nop logger.
	Logger zerolog.Logger
}

// Adapter manages Modbus TCP sensors. Create connects to the device,
// verifies it answers a register read, and starts a poll loop; Remove stops
// the loop and closes the connection. Update is replace: the old connection
// is torn down and the new spec connected fresh.
type Adapter struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	devices map[string]*device
}

// device is one connected sensor with a running poll loop.
type device struct {
	spec    supplier.SensorTarget
	handler *modbus.TCPClientHandler
	client  modbus.Client
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ engine.Adapter = (*Adapter)(nil)

// New creates a sensor adapter.
func New(opts Options) *Adapter {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.DefaultPollInterval == 0 {
		opts.DefaultPollInterval = 10 * time.Second
	}
	return &Adapter{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "sensor-adapter").Logger(),
		devices: make(map[string]*device),
	}
}

// Kind returns the resource kind this adapter manages.
func (a *Adapter) Kind() engine.Kind {
	return engine.KindSensor
}

// Create connects to the sensor and starts polling it. Connecting to a
// sensor that is already managed is an error; the engine never asks for it
// except after a missed removal.
func (a *Adapter) Create(ctx context.Context, res engine.Resource) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindSensor), "create", func() error {
		return a.connect(ctx, res)
	})
}

// Update replaces the sensor's connection with one built from the new spec.
func (a *Adapter) Update(ctx context.Context, res engine.Resource) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindSensor), "update", func() error {
		a.disconnect(res.ID)
		return a.connect(ctx, res)
	})
}

// Remove stops polling and closes the connection. Removing an unknown
// sensor is a no-op: the external state already matches the intent.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindSensor), "remove", func() error {
		a.disconnect(id)
		return nil
	})
}

// Close tears down every managed sensor. Used at daemon shutdown.
func (a *Adapter) Close() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.devices))
	for id := range a.devices {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.disconnect(id)
	}
}

func (a *Adapter) connect(ctx context.Context, res engine.Resource) error {
	var spec supplier.SensorTarget
	if err := json.Unmarshal(res.Spec, &spec); err != nil {
		return fmt.Errorf("sensor %s has undecodable spec: %w", res.ID, err)
	}

	a.mu.Lock()
	if _, exists := a.devices[res.ID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("sensor %s is already connected", res.ID)
	}
	a.mu.Unlock()

	port := spec.Port
	if port == 0 {
		port = defaultModbusPort
	}

	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", spec.Host, port))
	handler.Timeout = a.opts.ConnectTimeout
	handler.SlaveId = byte(spec.UnitID)

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("sensor %s unreachable at %s:%d: %w", res.ID, spec.Host, port, err)
	}

	client := modbus.NewClient(handler)

	// Verification read: the device must answer for its first declared
	// register range before we consider it created.
	first := spec.Registers[0]
	if _, err := client.ReadHoldingRegisters(first.Address, registerCount(first)); err != nil {
		handler.Close()
		return fmt.Errorf("sensor %s failed verification read at register %d: %w", res.ID, first.Address, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	dev := &device{
		spec:    spec,
		handler: handler,
		client:  client,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	a.mu.Lock()
	a.devices[res.ID] = dev
	a.mu.Unlock()

	go a.pollLoop(pollCtx, res.ID, dev)

	a.logger.Info().
		Str("sensor_id", res.ID).
		Str("address", fmt.Sprintf("%s:%d", spec.Host, port)).
		Int("registers", len(spec.Registers)).
		Msg("Sensor connected")

	return nil
}

func (a *Adapter) disconnect(id string) {
	a.mu.Lock()
	dev, exists := a.devices[id]
	if exists {
		delete(a.devices, id)
	}
	a.mu.Unlock()

	if !exists {
		return
	}

	dev.cancel()
	<-dev.done
	dev.handler.Close()

	a.logger.Info().Str("sensor_id", id).Msg("Sensor disconnected")
}

// pollLoop reads every declared register range at the sensor's interval and
// emits scaled readings. Read failures are logged and retried next tick; a
// flaky sensor stays managed.
func (a *Adapter) pollLoop(ctx context.Context, id string, dev *device) {
	defer close(dev.done)

	interval := a.opts.DefaultPollInterval
	if dev.spec.PollInterval != "" {
		if d, err := time.ParseDuration(dev.spec.PollInterval); err == nil {
			interval = d
		}
	}

	logger := a.logger.With().Str("sensor_id", id).Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.readOnce(logger, id, dev)
		}
	}
}

func (a *Adapter) readOnce(logger zerolog.Logger, id string, dev *device) {
	now := time.Now()
	for _, reg := range dev.spec.Registers {
		raw, err := dev.client.ReadHoldingRegisters(reg.Address, registerCount(reg))
		if err != nil {
			logger.Warn().Err(err).
				Str("register", reg.Name).
				Uint16("address", reg.Address).
				Msg("Register read failed")
			continue
		}
		if len(raw) < 2 {
			logger.Warn().Str("register", reg.Name).Msg("Short register response")
			continue
		}

		value := scaleValue(raw, reg)

		logger.Debug().
			Str("register", reg.Name).
			Float64("value", value).
			Str("unit", reg.Unit).
			Msg("Sensor reading")

		if a.opts.OnReading != nil {
			a.opts.OnReading(Reading{
				SensorID:  id,
				Name:      reg.Name,
				Value:     value,
				Unit:      reg.Unit,
				Timestamp: now,
			})
		}
	}
}

func registerCount(reg supplier.RegisterTarget) uint16 {
	if reg.Count == 0 {
		return 1
	}
	return reg.Count
}

// scaleValue converts the big-endian raw register bytes into engineering
// units. Multi-register ranges are treated as one unsigned integer.
func scaleValue(raw []byte, reg supplier.RegisterTarget) float64 {
	var v uint64
	for i := 0; i+1 < len(raw); i += 2 {
		v = v<<16 | uint64(raw[i])<<8 | uint64(raw[i+1])
	}

	scale := reg.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(v) * scale
}
