package port

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
)

// Docker finds containers publishing a host port. The containerised
// deployment of the backend is the usual culprit when the port is busy.
type Docker struct {
	client *dockerclient.Client
}

// NewDocker connects using the standard DOCKER_* environment. It does not
// contact the daemon.
func NewDocker() (*Docker, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Docker{client: cli}, nil
}

// PublishedOn returns the running container publishing port, or nil.
func (d *Docker) PublishedOn(ctx context.Context, port int) (*Owner, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	for _, c := range containers {
		for _, p := range c.Ports {
			if int(p.PublicPort) != port {
				continue
			}
			name := c.ID
			if len(name) > 12 {
				name = name[:12]
			}
			if len(c.Names) > 0 {
				name = strings.TrimPrefix(c.Names[0], "/")
			}
			return &Owner{ID: c.ID, Name: name, Image: c.Image}, nil
		}
	}
	return nil, nil
}

// Close releases the client's resources.
func (d *Docker) Close() error {
	return d.client.Close()
}
