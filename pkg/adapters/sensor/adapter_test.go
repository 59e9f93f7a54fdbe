package sensor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/supplier"
)

func TestAdapter_Kind(t *testing.T) {
	a := New(Options{})
	if a.Kind() != engine.KindSensor {
		t.Errorf("Unexpected kind: %s", a.Kind())
	}
}

func TestAdapter_Create_UndecodableSpec(t *testing.T) {
	a := New(Options{})

	err := a.Create(context.Background(), engine.Resource{
		ID:   "bad",
		Spec: json.RawMessage(`"not an object"`),
	})
	if err == nil {
		t.Fatal("Expected error for undecodable spec")
	}
}

func TestAdapter_Create_UnreachableHost(t *testing.T) {
	a := New(Options{ConnectTimeout: 200 * time.Millisecond})

	spec, _ := json.Marshal(supplier.SensorTarget{
		ID:   "s1",
		Host: "127.0.0.1",
		Port: 1,
		Registers: []supplier.RegisterTarget{
			{Name: "temperature", Address: 0},
		},
	})

	err := a.Create(context.Background(), engine.Resource{ID: "s1", Spec: spec})
	if err == nil {
		t.Fatal("Expected error for unreachable sensor")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.devices) != 0 {
		t.Errorf("Failed create must not leave a device behind, got %d", len(a.devices))
	}
}

func TestAdapter_Remove_UnknownIsNoop(t *testing.T) {
	a := New(Options{})

	if err := a.Remove(context.Background(), "never-existed"); err != nil {
		t.Errorf("Removing an unknown sensor must be a no-op, got %v", err)
	}
}

func TestScaleValue(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		reg      supplier.RegisterTarget
		expected float64
	}{
		{
			name:     "temperature scaled by 0.1",
			raw:      []byte{0x00, 0xFB}, // 251
			reg:      supplier.RegisterTarget{Scale: 0.1},
			expected: 25.1,
		},
		{
			name:     "unscaled pressure",
			raw:      []byte{0x04, 0x4C}, // 1100
			reg:      supplier.RegisterTarget{},
			expected: 1100,
		},
		{
			name:     "two registers as one value",
			raw:      []byte{0x00, 0x01, 0x00, 0x00}, // 65536
			reg:      supplier.RegisterTarget{Count: 2},
			expected: 65536,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scaleValue(tt.raw, tt.reg)
			if got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRegisterCount_DefaultsToOne(t *testing.T) {
	if registerCount(supplier.RegisterTarget{}) != 1 {
		t.Error("Expected default register count of 1")
	}
	if registerCount(supplier.RegisterTarget{Count: 4}) != 4 {
		t.Errorf("Expected explicit count to pass through")
	}
}
