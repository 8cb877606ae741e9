package node

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

const (
	DefaultImage    = "alpine:3.20"
	ContainerPrefix = "netexp-"
)

// ContainerManager backs each node with a privileged docker container that
// has networking disabled; the node's links are plugged into the container's
// namespace afterwards.
type ContainerManager struct {
	dClient *client.Client
	image   string
	logger  *slog.Logger
}

func NewContainerManager(image string, logger *slog.Logger) (*ContainerManager, error) {
	dClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("error creating docker client: %v", err)
	}
	if image == "" {
		image = DefaultImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerManager{
		dClient: dClient,
		image:   image,
		logger:  logger.With("component", "docker"),
	}, nil
}

// ContainerName is the docker name used for node name.
func ContainerName(name string) string {
	return ContainerPrefix + name
}

// AddNode creates the container, starts it and returns its network namespace.
func (cm *ContainerManager) AddNode(ctx context.Context, name string) (string, error) {
	cname := ContainerName(name)

	// check if existed
	if _, err := cm.dClient.ContainerInspect(ctx, cname); err == nil {
		cm.logger.Warn("removing stale container", "node", name, "container", cname)
		if err := cm.DeleteNode(ctx, name); err != nil {
			return "", err
		}
	}

	// Forwarding starts off; the role configurator turns it on for routers.
	sysctls := map[string]string{"net.ipv4.ip_forward": "0"}

	create := func() error {
		_, err := cm.dClient.ContainerCreate(ctx, &container.Config{
			Image:           cm.image,
			Cmd:             []string{"sleep", "infinity"},
			Hostname:        name,
			NetworkDisabled: true,
			User:            "root",
		}, &container.HostConfig{
			Privileged: true,
			Sysctls:    sysctls,
		}, nil, nil, cname)
		return err
	}
	err := createPulling(create, func() error { return cm.pull(ctx) })
	if err != nil {
		return "", fmt.Errorf("error creating container %s: %v", cname, err)
	}

	if err = cm.dClient.ContainerStart(ctx, cname, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("error starting container %s: %v", cname, err)
	}

	// Get Ns from container
	res, err := cm.dClient.ContainerInspect(ctx, cname)
	if err != nil {
		return "", fmt.Errorf("error inspecting container %s: %v", cname, err)
	}
	if res.State == nil || res.State.Pid == 0 {
		return "", fmt.Errorf("container %s is not running", cname)
	}
	netNs := fmt.Sprintf("/proc/%d/ns/net", res.State.Pid)
	cm.logger.Debug("container started", "node", name, "netns", netNs)
	return netNs, nil
}

// createPulling runs create, and if the image is missing locally, pulls it
// and runs create once more.
func createPulling(create, pull func() error) error {
	err := create()
	if !errdefs.IsNotFound(err) {
		return err
	}
	if err := pull(); err != nil {
		return err
	}
	return create()
}

func (cm *ContainerManager) pull(ctx context.Context) error {
	cm.logger.Info("pulling image", "image", cm.image)
	rc, err := cm.dClient.ImagePull(ctx, cm.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %v", cm.image, err)
	}
	defer rc.Close()
	// the pull finishes when the progress stream ends
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %v", cm.image, err)
	}
	return nil
}

func (cm *ContainerManager) DeleteNode(ctx context.Context, name string) error {
	err := cm.dClient.ContainerRemove(ctx, ContainerName(name), container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("error removing container %s: %v", ContainerName(name), err)
	}
	return nil
}
