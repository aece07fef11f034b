// Package power manages the destination host: Wake-on-LAN before a run and
// an optional SSH shutdown after it.
package power

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mdlayher/wol"
	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for destination host power management.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WakeResult, error)
	Shutdown(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error)
}

// WOLClient wraps the wol library for mocking.
type WOLClient interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHFactory creates SSH clients.
type SSHFactory interface {
	NewClient(addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// defaultWOLClient sends magic packets via mdlayher/wol.
type defaultWOLClient struct{}

func (defaultWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

type defaultSSHFactory struct{}

func (defaultSSHFactory) NewClient(addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

// Impl implements the power Service interface.
type Impl struct {
	wolClient  WOLClient
	httpClient HTTPClient
	sshFactory SSHFactory
	logger     zerolog.Logger
}

// New creates a new power service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: defaultWOLClient{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		sshFactory: defaultSSHFactory{},
		logger:     logger,
	}
}

// NewWithClients creates a new power service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient WOLClient, httpClient HTTPClient, sshFactory SSHFactory) *Impl {
	return &Impl{
		wolClient:  wolClient,
		httpClient: httpClient,
		sshFactory: sshFactory,
		logger:     logger,
	}
}

// Wake sends a WOL packet and optionally polls a URL until the destination
// host answers.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking destination host")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.TargetReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for destination host")

	if err := s.waitForTarget(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().Dur("duration", result.WaitDuration).Msg("destination host is ready")

	return result, nil
}

func (s *Impl) waitForTarget(ctx context.Context, cfg models.WOLConfig) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for destination at %s", cfg.PollURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			// Any response means the host is up.
			return nil
		}

		s.logger.Debug().Err(err).Msg("destination not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

// Shutdown powers off the destination host over SSH once the run is done.
func (s *Impl) Shutdown(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error) {
	result := &models.ShutdownResult{}

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("delay", cfg.ShutdownDelay).
		Msg("initiating destination shutdown")

	sshConfig, err := s.buildSSHConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.sshFactory.NewClient(addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result, nil
	case res := <-clientChan:
		if res.err != nil {
			result.Error = fmt.Errorf("failed to connect: %w", res.err)
			return result, nil
		}
		client = res.client
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer func() { _ = session.Close() }()

	cmd := shutdownCommand(cfg)
	s.logger.Debug().Str("command", cmd).Msg("executing shutdown command")

	output, err := session.CombinedOutput(cmd)
	result.Output = string(output)
	result.CommandRun = true

	if err != nil {
		// The connection closing mid-shutdown is expected on some systems.
		if ctx.Err() != nil {
			result.Error = ctx.Err()
		} else {
			s.logger.Warn().Err(err).Str("output", result.Output).Msg("shutdown command returned error (may be expected)")
		}
	}

	return result, nil
}

func (s *Impl) buildSSHConfig(cfg models.ShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // homelab environment
		Timeout:         30 * time.Second,
	}, nil
}

func shutdownCommand(cfg models.ShutdownConfig) string {
	if cfg.OS == "windows" {
		delaySeconds := cfg.ShutdownDelay * 60
		if delaySeconds == 0 {
			delaySeconds = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", delaySeconds)
	}

	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}
