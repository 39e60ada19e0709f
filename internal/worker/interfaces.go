package worker

import (
	"context"
	"io"
)

// JobRunner defines the interface for container runtime backends a host
// exposes. This core keeps exactly two implementations: DockerRunner for
// local_socket hosts and RemoteRunner for remote_tcp hosts reached over an
// SSH tunnel (internal/hosts.DialTunnel) — both speak the same Docker
// Engine API, so they share one interface instead of a factory keyed on
// more runtimes.
type JobRunner interface {
	// SpawnWorker creates and starts a worker container for the given
	// configuration, returning the runtime's container id.
	SpawnWorker(ctx context.Context, config *WorkerConfig) (string, error)

	// StreamLogs streams stdout/stderr from a running worker container.
	StreamLogs(ctx context.Context, containerID string) (stdout io.ReadCloser, stderr io.ReadCloser, err error)

	// WaitForCompletion blocks until the container exits, returning its
	// exit code.
	WaitForCompletion(ctx context.Context, containerID string) (int, error)

	// Cleanup removes the container and any associated resources.
	Cleanup(ctx context.Context, containerID string) error

	// Labels reads back a container's label set, used by StopWorker to
	// recover the GPU id it was spawned with.
	Labels(ctx context.Context, containerID string) (map[string]string, error)

	// ListByLabel lists container ids matching a label selector.
	ListByLabel(ctx context.Context, labels map[string]string) ([]string, error)

	// Stop issues a stop-with-timeout to the container runtime.
	Stop(ctx context.Context, containerID string, timeoutSeconds int) error

	// Inspect reads back name, image and current status for a container,
	// used by the service_map and gpu_report tasks to describe containers
	// they did not spawn themselves.
	Inspect(ctx context.Context, containerID string) (ContainerInfo, error)
}

// ContainerInfo is the subset of Docker Engine API inspect output the
// reporting tasks need.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	Status string
}

// WorkerConfig is everything SpawnWorker needs to construct a container
// under the fixed security invariants of §4.E: the entrypoint is always
// cleared, exactly two mounts are attached (logs read-write, uploads
// read-only), the network is bridged, and a memory cap with swap disabled
// is always applied.
type WorkerConfig struct {
	Image string
	Tag   string

	Command []string
	Env     map[string]string

	LogsDir    string // mounted read-write at /job/logs
	UploadsDir string // mounted read-only at /job/uploads

	MemoryLimitMB int

	// GPUDeviceID, if non-empty, attaches a device request for that GPU.
	GPUDeviceID string

	// Labels are merged with the fixed ephemeral=true label set
	// (run id, job id, task key).
	Labels map[string]string

	ContainerName string
}
