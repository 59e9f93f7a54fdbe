package supplier

import (
	"encoding/json"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/iotistic/supervisor/pkg/engine"
)

// Parser validates raw target documents and turns them into per-kind states.
// Validation happens in two layers: the CUE schema rejects malformed wire
// shapes, then struct tags and duplicate-id checks cover what the schema
// cannot express. Nothing invalid ever reaches an engine.
type Parser struct {
	cueCtx   *cue.Context
	schema   cue.Value
	validate *validator.Validate
}

// NewParser compiles the target document schema.
func NewParser() (*Parser, error) {
	cueCtx := cuecontext.New()

	schemaVal := cueCtx.CompileString(targetSchema)
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile target schema: %w", err)
	}

	doc := schemaVal.LookupPath(cue.ParsePath("#Document"))
	if !doc.Exists() {
		return nil, fmt.Errorf("target schema has no #Document definition")
	}

	return &Parser{
		cueCtx:   cueCtx,
		schema:   doc,
		validate: validator.New(),
	}, nil
}

// Parse validates a raw document and builds the target. Any error means the
// document is rejected whole; a partially valid document never applies.
func (p *Parser) Parse(data []byte, source string) (*Target, error) {
	if err := p.validateSchema(data); err != nil {
		return nil, fmt.Errorf("target document failed schema validation: %w", err)
	}

	var doc TargetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode target document: %w", err)
	}

	if err := p.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("target document failed validation: %w", err)
	}

	sensors, err := p.sensorState(doc.Sensors)
	if err != nil {
		return nil, err
	}
	containers, err := p.containerState(doc.Containers)
	if err != nil {
		return nil, err
	}

	return &Target{
		States: map[engine.Kind]engine.State{
			engine.KindSensor:    sensors,
			engine.KindContainer: containers,
		},
		Source:    source,
		FetchedAt: time.Now(),
	}, nil
}

// validateSchema unifies the document with the CUE schema.
func (p *Parser) validateSchema(data []byte) error {
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}

	dataVal := p.cueCtx.Encode(decoded)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	unified := p.schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}

	return nil
}

func (p *Parser) sensorState(sensors []SensorTarget) (engine.State, error) {
	state := make(engine.State, 0, len(sensors))
	for i := range sensors {
		s := sensors[i]
		if s.PollInterval != "" {
			if _, err := time.ParseDuration(s.PollInterval); err != nil {
				return nil, fmt.Errorf("sensor %s has invalid poll_interval %q: %w", s.ID, s.PollInterval, err)
			}
		}

		spec, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sensor %s: %w", s.ID, err)
		}
		state = append(state, engine.Resource{ID: s.ID, Spec: spec, Labels: s.Labels})
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("sensor targets invalid: %w", err)
	}
	return state, nil
}

func (p *Parser) containerState(containers []ContainerTarget) (engine.State, error) {
	state := make(engine.State, 0, len(containers))
	for i := range containers {
		c := containers[i]

		spec, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to encode container %s: %w", c.ID, err)
		}
		state = append(state, engine.Resource{ID: c.ID, Spec: spec, Labels: c.Labels})
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("container targets invalid: %w", err)
	}
	return state, nil
}
