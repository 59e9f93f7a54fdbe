package container

import (
	"testing"

	"github.com/docker/go-connections/nat"

	"github.com/iotistic/supervisor/pkg/supplier"
)

func TestBuildConfig(t *testing.T) {
	spec := supplier.ContainerTarget{
		ID:    "telemetry-agent",
		Image: "registry.iotistic.local/telemetry-agent:2.1",
		Env:   map[string]string{"LOG_LEVEL": "info", "DEVICE": "plant-3"},
		Ports: []supplier.PortTarget{
			{Host: 8080, Container: 80},
			{Host: 1883, Container: 1883, Protocol: "tcp"},
		},
		Volumes: []string{"/data:/var/lib/agent"},
		Restart: "unless-stopped",
		Labels:  map[string]string{"app": "telemetry"},
	}

	cfg, hostCfg, err := buildConfig("telemetry-agent", spec)
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}

	if cfg.Image != spec.Image {
		t.Errorf("Unexpected image: %s", cfg.Image)
	}
	if cfg.Labels[managedLabel] != "true" {
		t.Error("Managed label missing")
	}
	if cfg.Labels[idLabel] != "telemetry-agent" {
		t.Errorf("Id label missing, labels: %v", cfg.Labels)
	}
	if cfg.Labels["app"] != "telemetry" {
		t.Error("Spec labels not merged")
	}

	// Env is sorted for deterministic container config.
	if len(cfg.Env) != 2 || cfg.Env[0] != "DEVICE=plant-3" || cfg.Env[1] != "LOG_LEVEL=info" {
		t.Errorf("Unexpected env: %v", cfg.Env)
	}

	port80 := nat.Port("80/tcp")
	if _, ok := cfg.ExposedPorts[port80]; !ok {
		t.Errorf("Port 80/tcp not exposed: %v", cfg.ExposedPorts)
	}
	if got := hostCfg.PortBindings[port80]; len(got) != 1 || got[0].HostPort != "8080" {
		t.Errorf("Unexpected binding for 80/tcp: %v", got)
	}

	if hostCfg.RestartPolicy.Name != "unless-stopped" {
		t.Errorf("Unexpected restart policy: %v", hostCfg.RestartPolicy)
	}
	if len(hostCfg.Binds) != 1 || hostCfg.Binds[0] != "/data:/var/lib/agent" {
		t.Errorf("Unexpected binds: %v", hostCfg.Binds)
	}
	if hostCfg.Privileged {
		t.Error("Privileged must default to false")
	}
}

func TestBuildConfig_Privileged(t *testing.T) {
	spec := supplier.ContainerTarget{
		ID:         "debug",
		Image:      "debug:latest",
		Privileged: true,
	}

	_, hostCfg, err := buildConfig("debug", spec)
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if !hostCfg.Privileged {
		t.Error("Privileged flag not carried")
	}
}

func TestContainerName(t *testing.T) {
	if containerName("app") != "supervisor-app" {
		t.Errorf("Unexpected container name: %s", containerName("app"))
	}
}
