package worker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// EphemeralLabel marks every container this orchestrator spawns, so
// CleanupOrphans can find them regardless of which host or run created
// them.
const EphemeralLabel = "ephemeral"

// DockerRunner implements JobRunner against a Docker Engine API client.
// Used directly for local_socket hosts; RemoteRunner wraps the same
// client type dialed through an SSH tunnel for remote_tcp hosts.
type DockerRunner struct {
	client *client.Client
}

// NewDockerRunner connects to the local Docker socket.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRunner{client: cli}, nil
}

// NewDockerRunnerWithClient wraps an already-constructed Docker client,
// used by RemoteRunner to plug in an SSH-tunneled HTTP transport.
func NewDockerRunnerWithClient(cli *client.Client) *DockerRunner {
	return &DockerRunner{client: cli}
}

// SpawnWorker creates and starts a worker container under the fixed
// security invariants: cleared entrypoint, exactly two mounts (logs
// read-write, uploads read-only), bridged network, memory cap with swap
// disabled, and a GPU device request when GPUDeviceID is set.
func (dr *DockerRunner) SpawnWorker(ctx context.Context, config *WorkerConfig) (string, error) {
	logger := logging.Log.WithField("container_name", config.ContainerName)

	if err := dr.validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid worker configuration: %w", err)
	}

	imageRef := config.Image + ":" + config.Tag
	logger.WithField("image", imageRef).Info("ensuring worker image is available")
	if err := dr.ensureImage(ctx, imageRef); err != nil {
		return "", fmt.Errorf("failed to ensure image: %w", err)
	}

	labels := map[string]string{EphemeralLabel: "true"}
	for k, v := range config.Labels {
		labels[k] = v
	}

	containerConfig := &container.Config{
		Image:        imageRef,
		Cmd:          config.Command,
		Env:          envMapToSlice(config.Env),
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels:       labels,
		// Entrypoint is always cleared so Command runs directly.
		Entrypoint: []string{},
	}

	binds := []string{
		fmt.Sprintf("%s:/job/logs", config.LogsDir),
		fmt.Sprintf("%s:/job/uploads:ro", config.UploadsDir),
	}

	hostConfig := &container.HostConfig{
		Binds:            binds,
		NetworkMode:      container.NetworkMode("bridge"),
		MemorySwappiness: func() *int64 { v := int64(0); return &v }(),
	}
	if config.MemoryLimitMB > 0 {
		hostConfig.Memory = int64(config.MemoryLimitMB) * 1024 * 1024
		hostConfig.MemorySwap = hostConfig.Memory // memory == memory+swap disables swap
	}
	if config.GPUDeviceID != "" {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{
			{
				Driver:       "nvidia",
				DeviceIDs:    []string{config.GPUDeviceID},
				Capabilities: [][]string{{"gpu"}},
			},
		}
		logger.WithField("gpu_device_id", config.GPUDeviceID).Info("attaching gpu device request")
	}

	logger.WithField("image", imageRef).Info("creating worker container")
	resp, err := dr.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, config.ContainerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if len(resp.Warnings) > 0 {
		logger.WithField("warnings", resp.Warnings).Warn("container creation warnings")
	}

	logger.WithField("container_id", resp.ID).Info("starting worker container")
	if err := dr.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		dr.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	logger.WithField("container_id", resp.ID).Info("worker container started")
	return resp.ID, nil
}

func (dr *DockerRunner) StreamLogs(ctx context.Context, containerID string) (stdout io.ReadCloser, stderr io.ReadCloser, err error) {
	logger := logging.Log.WithField("container_id", containerID)

	logOptions := container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true}
	logs, err := dr.client.ContainerLogs(ctx, containerID, logOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		defer logs.Close()
		defer stdoutWriter.Close()
		defer stderrWriter.Close()
		if _, err := stdcopy.StdCopy(stdoutWriter, stderrWriter, logs); err != nil && err != io.EOF {
			logger.WithError(err).Error("error demultiplexing container logs")
		}
	}()

	return stdoutReader, stderrReader, nil
}

func (dr *DockerRunner) WaitForCompletion(ctx context.Context, containerID string) (int, error) {
	logger := logging.Log.WithField("container_id", containerID)

	statusCh, errCh := dr.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("error waiting for container: %w", err)
		}
	case status := <-statusCh:
		logger.WithField("exit_code", status.StatusCode).Info("container exited")
		return int(status.StatusCode), nil
	}
	return -1, fmt.Errorf("unexpected error waiting for container")
}

func (dr *DockerRunner) Cleanup(ctx context.Context, containerID string) error {
	logger := logging.Log.WithField("container_id", containerID)
	logger.Info("cleaning up worker container")

	if err := dr.client.ContainerRemove(ctx, containerID, container.RemoveOptions{RemoveVolumes: true, Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	logger.Info("worker container cleaned up")
	return nil
}

func (dr *DockerRunner) Labels(ctx context.Context, containerID string) (map[string]string, error) {
	info, err := dr.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspecting container: %w", err)
	}
	return info.Config.Labels, nil
}

func (dr *DockerRunner) ListByLabel(ctx context.Context, labels map[string]string) ([]string, error) {
	f := filters.NewArgs()
	for k, v := range labels {
		f.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	containers, err := dr.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("listing containers by label: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (dr *DockerRunner) Stop(ctx context.Context, containerID string, timeoutSeconds int) error {
	timeout := timeoutSeconds
	return dr.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
}

func (dr *DockerRunner) Inspect(ctx context.Context, containerID string) (ContainerInfo, error) {
	info, err := dr.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("inspecting container: %w", err)
	}
	image := info.Config.Image
	status := ""
	if info.State != nil {
		status = info.State.Status
	}
	return ContainerInfo{
		ID:     info.ID,
		Name:   strings.TrimPrefix(info.Name, "/"),
		Image:  image,
		Status: status,
	}, nil
}

func (dr *DockerRunner) validateConfig(config *WorkerConfig) error {
	if config.Image == "" || config.Tag == "" {
		return fmt.Errorf("image and tag are required")
	}
	if config.LogsDir == "" || config.UploadsDir == "" {
		return fmt.Errorf("logs and uploads directories are required")
	}
	if config.ContainerName == "" {
		return fmt.Errorf("container name is required")
	}
	return nil
}

func (dr *DockerRunner) ensureImage(ctx context.Context, imageRef string) error {
	logger := logging.Log.WithField("image", imageRef)

	if _, _, err := dr.client.ImageInspectWithRaw(ctx, imageRef); err == nil {
		logger.Debug("image found locally")
		return nil
	}

	logger.Info("pulling worker image")
	pullResp, err := dr.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer pullResp.Close()

	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}
	logger.Info("image pulled successfully")
	return nil
}

func envMapToSlice(envMap map[string]string) []string {
	if envMap == nil {
		return nil
	}
	envSlice := make([]string, 0, len(envMap))
	for key, value := range envMap {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", key, value))
	}
	return envSlice
}

var _ JobRunner = (*DockerRunner)(nil)
