package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/supplier"
	"github.com/iotistic/supervisor/pkg/telemetry"
)

// Labels stamped on every container this adapter creates. The id label is
// how a container is found again across supervisor restarts.
const (
	managedLabel = "io.iotistic.supervisor.managed"
	idLabel      = "io.iotistic.supervisor.id"
)

// Options configures the container adapter.
type Options struct {
	// Host overrides the Docker daemon socket. Empty uses the environment.
	Host string

	// StopTimeout is the grace period before a container is killed.
	StopTimeout time.Duration

	// Logger defaults to a nop logger.
	Logger zerolog.Logger
}

// Adapter manages application containers through the Docker Engine API.
// Update is replace: the running container is stopped and removed, then a
// fresh one is created from the new spec. Containers carry identifying
// labels so restarts of the supervisor find them again.
type Adapter struct {
	cli    client.APIClient
	opts   Options
	logger zerolog.Logger
}

var _ engine.Adapter = (*Adapter)(nil)

// New creates a container adapter connected to the Docker daemon.
func New(opts Options) (*Adapter, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if opts.StopTimeout == 0 {
		opts.StopTimeout = 10 * time.Second
	}

	return &Adapter{
		cli:    cli,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "container-adapter").Logger(),
	}, nil
}

// Kind returns the resource kind this adapter manages.
func (a *Adapter) Kind() engine.Kind {
	return engine.KindContainer
}

// Create pulls the image, creates the container and starts it.
func (a *Adapter) Create(ctx context.Context, res engine.Resource) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindContainer), "create", func() error {
		return a.create(ctx, res)
	})
}

// Update replaces the container: stop and remove the old one, then create
// from the new spec. In-place reconfiguration is never attempted.
func (a *Adapter) Update(ctx context.Context, res engine.Resource) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindContainer), "update", func() error {
		if err := a.remove(ctx, res.ID); err != nil {
			return err
		}
		return a.create(ctx, res)
	})
}

// Remove stops and deletes the managed container. A container that is
// already gone is a no-op.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	return telemetry.RecordAdapterOperation(ctx, string(engine.KindContainer), "remove", func() error {
		return a.remove(ctx, id)
	})
}

func (a *Adapter) create(ctx context.Context, res engine.Resource) error {
	var spec supplier.ContainerTarget
	if err := json.Unmarshal(res.Spec, &spec); err != nil {
		return fmt.Errorf("container %s has undecodable spec: %w", res.ID, err)
	}

	logger := a.logger.With().Str("container_id", res.ID).Str("image", spec.Image).Logger()

	reader, err := a.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}
	// The pull completes when the progress stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	cfg, hostCfg, err := buildConfig(res.ID, spec)
	if err != nil {
		return err
	}

	created, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(res.ID))
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", res.ID, err)
	}

	if err := a.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", res.ID, err)
	}

	logger.Info().Str("docker_id", created.ID[:12]).Msg("Container started")
	return nil
}

func (a *Adapter) remove(ctx context.Context, id string) error {
	dockerID, err := a.find(ctx, id)
	if err != nil {
		return err
	}
	if dockerID == "" {
		a.logger.Debug().Str("container_id", id).Msg("Container already absent")
		return nil
	}

	seconds := int(a.opts.StopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, dockerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}

	if err := a.cli.ContainerRemove(ctx, dockerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}

	a.logger.Info().Str("container_id", id).Msg("Container removed")
	return nil
}

// find resolves a managed resource id to a Docker container id, or "" when
// no such container exists.
func (a *Adapter) find(ctx context.Context, id string) (string, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", managedLabel+"=true"),
			filters.Arg("label", idLabel+"="+id),
		),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return "", nil
	}
	return containers[0].ID, nil
}

func containerName(id string) string {
	return "supervisor-" + id
}

func buildConfig(id string, spec supplier.ContainerTarget) (*container.Config, *container.HostConfig, error) {
	labels := map[string]string{
		managedLabel: "true",
		idLabel:      id,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: labels,
		Cmd:    spec.Command,
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, fmt.Sprintf("%d", p.Container))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %d:%d: %w", p.Host, p.Container, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: fmt.Sprintf("%d", p.Host)})
	}
	if len(exposed) > 0 {
		cfg.ExposedPorts = exposed
	}

	hostCfg := &container.HostConfig{
		Binds:        spec.Volumes,
		PortBindings: bindings,
		Privileged:   spec.Privileged,
	}
	if spec.Restart != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.Restart)}
	}

	return cfg, hostCfg, nil
}
