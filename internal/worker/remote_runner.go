package worker

import (
	"context"
	"net"
	"net/http"

	"github.com/docker/docker/client"

	"github.com/cyberbrain/orchestrator/internal/hosts"
)

// NewRemoteRunner builds a JobRunner for a remote_tcp WorkerHost: a Docker
// client whose HTTP transport dials through an SSH tunnel to the remote
// container runtime's Unix socket, rather than a local one. It otherwise
// behaves exactly like DockerRunner — same JobRunner contract, same
// container config — since both backends speak the Docker Engine API.
func NewRemoteRunner(cfg hosts.SSHTunnelConfig) (*DockerRunner, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return hosts.DialTunnel(ctx, cfg)
		},
	}
	cli, err := client.NewClientWithOpts(
		client.WithHTTPClient(&http.Client{Transport: transport}),
		client.WithHost("http://remote-docker-over-ssh"),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, err
	}
	return NewDockerRunnerWithClient(cli), nil
}
