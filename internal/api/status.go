package api

import (
	"context"
	"net/http"

	"github.com/rickgao/eventrouter/internal/connection"
	"github.com/rickgao/eventrouter/internal/health"
	"github.com/rickgao/eventrouter/internal/metrics"
	"github.com/rickgao/eventrouter/internal/registry"
	"github.com/rickgao/eventrouter/internal/version"
)

// Stats is the /stats response: the health snapshot plus registry and
// per-connection detail.
type Stats struct {
	health.Snapshot
	Registry    registry.Stats         `json:"registry"`
	Connections []connection.ConnStats `json:"connections"`
}

// GetHealth returns the router's latest health snapshot. An OVERLOADED
// router answers 503 with a snapshot body; that is returned without error.
func (c *Client) GetHealth(ctx context.Context) (*health.Snapshot, error) {
	var snap health.Snapshot
	if _, err := c.get(ctx, "/health", &snap, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetStats returns the snapshot with registry and connection detail.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if _, err := c.get(ctx, "/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetVersion returns the router's build information.
func (c *Client) GetVersion(ctx context.Context) (*version.Info, error) {
	var v version.Info
	if _, err := c.get(ctx, "/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetMetrics returns the router's current metric points.
func (c *Client) GetMetrics(ctx context.Context) ([]metrics.Point, error) {
	var points []metrics.Point
	if _, err := c.get(ctx, "/metrics", &points); err != nil {
		return nil, err
	}
	return points, nil
}
