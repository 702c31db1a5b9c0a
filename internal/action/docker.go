package action

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerContainers restarts and pauses containers through the docker daemon
type DockerContainers struct {
	client *client.Client
}

func NewDockerContainers() (*DockerContainers, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerContainers{client: cli}, nil
}

func (d *DockerContainers) Restart(ctx context.Context, name string) error {
	return d.client.ContainerRestart(ctx, name, container.StopOptions{})
}

func (d *DockerContainers) Pause(ctx context.Context, name string) error {
	return d.client.ContainerPause(ctx, name)
}

func (d *DockerContainers) Close() error {
	return d.client.Close()
}
