package gateway

import (
	"fmt"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

// Resolver creates a Gateway for the one backend named in configuration. It
// does not fall back to another backend: an unavailable Docker backend is an
// error.
type Resolver struct {
	cfg *config.Config

	// dockerAvailable reports whether a working Docker client can be
	// constructed; overridable for tests.
	dockerAvailable func() (*DockerGateway, error)
}

// NewResolver constructs a Resolver over cfg.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg, dockerAvailable: NewDockerGateway}
}

// CreateGateway builds the configured backend, wrapped in the rate-limited
// decorator per gateway.rate_limit_per_sec / rate_limit_burst.
func (r *Resolver) CreateGateway() (Gateway, error) {
	backend, err := r.createBackend(r.cfg.Gateway.Backend)
	if err != nil {
		return nil, err
	}
	return NewRateLimited(backend, r.cfg.Gateway.RateLimitPerSec, r.cfg.Gateway.RateLimitBurst), nil
}

func (r *Resolver) createBackend(backend string) (Gateway, error) {
	switch backend {
	case "process":
		return NewProcessGateway(), nil
	case "docker":
		gw, err := r.dockerAvailable()
		if err != nil {
			return nil, fmt.Errorf("gateway: docker backend unavailable: %w", err)
		}
		if r.cfg.Gateway.DockerImage != "" {
			gw.Image = r.cfg.Gateway.DockerImage
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("gateway: unknown backend type %q", backend)
	}
}

// ValidateConfiguration reports whether the configured backend is
// constructible without actually spawning any workers.
func (r *Resolver) ValidateConfiguration() error {
	_, err := r.createBackend(r.cfg.Gateway.Backend)
	return err
}
