package hosts

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"golang.org/x/crypto/ssh"
)

// SSHTunnelConfig is the shape of a WorkerHost's SSHConfig JSONB blob for
// remote_tcp hosts. It is never logged; WorkerHost.SSHConfig carries a
// `json:"-"` tag for the same reason.
type SSHTunnelConfig struct {
	Addr           string `json:"addr"`
	User           string `json:"user"`
	PrivateKeyPEM  string `json:"private_key_pem"`
	RemoteSocket   string `json:"remote_socket"`
	HostKeyPEM     string `json:"host_key_pem"`
	ConnectTimeout int    `json:"connect_timeout_seconds"`
}

// DialTunnel opens an SSH connection to a remote_tcp host and returns a
// net.Conn proxied to the remote container runtime's Unix socket, the way
// a Docker client would dial a local socket. Callers use the returned
// conn as the transport for an ordinary Docker SDK client.
func DialTunnel(ctx context.Context, cfg SSHTunnelConfig) (net.Conn, error) {
	signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.HostKeyPEM != "" {
		hostKey, err := ssh.ParsePublicKey([]byte(cfg.HostKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing ssh host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(hostKey)
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", cfg.Addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing ssh host %s: %w", cfg.Addr, err)
	}

	conn, err := client.Dial("unix", cfg.RemoteSocket)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("dialing remote socket %s: %w", cfg.RemoteSocket, err)
	}
	return &tunnelConn{Conn: conn, client: client}, nil
}

// tunnelConn closes the owning SSH client alongside the proxied
// connection so a tunnel never outlives its session.
type tunnelConn struct {
	net.Conn
	client *ssh.Client
}

func (t *tunnelConn) Close() error {
	connErr := t.Conn.Close()
	clientErr := t.client.Close()
	if connErr != nil {
		return connErr
	}
	return clientErr
}

// dockerProber probes a local_socket or remote_tcp host by attempting to
// establish the runtime transport and immediately closing it.
type dockerProber struct{}

// NewDockerProber returns a Prober that exercises the same transport the
// worker orchestrator uses for spawn/stop calls, grounded on
// docker_runner.go's client construction.
func NewDockerProber() Prober { return dockerProber{} }

func (dockerProber) Probe(ctx context.Context, host models.WorkerHost) error {
	switch host.Kind {
	case models.HostLocalSocket:
		return probeLocalSocket(ctx, host.BaseURL)
	case models.HostRemoteTCP:
		return probeRemoteTCP(ctx, host)
	default:
		return fmt.Errorf("unknown worker host kind %q", host.Kind)
	}
}

func probeLocalSocket(ctx context.Context, baseURL string) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "unix", baseURL)
	if err != nil {
		return fmt.Errorf("probing local socket %s: %w", baseURL, err)
	}
	return conn.Close()
}

func probeRemoteTCP(ctx context.Context, host models.WorkerHost) error {
	var cfg SSHTunnelConfig
	if host.SSHConfig != nil {
		if addr, ok := host.SSHConfig["addr"].(string); ok {
			cfg.Addr = addr
		}
		if user, ok := host.SSHConfig["user"].(string); ok {
			cfg.User = user
		}
		if key, ok := host.SSHConfig["private_key_pem"].(string); ok {
			cfg.PrivateKeyPEM = key
		}
		if sock, ok := host.SSHConfig["remote_socket"].(string); ok {
			cfg.RemoteSocket = sock
		}
		if hk, ok := host.SSHConfig["host_key_pem"].(string); ok {
			cfg.HostKeyPEM = hk
		}
	}
	conn, err := DialTunnel(ctx, cfg)
	if err != nil {
		return err
	}
	return conn.Close()
}
