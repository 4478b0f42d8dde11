package writer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createHealthTable = `
CREATE TABLE IF NOT EXISTS router_health_samples (
	sampled_at          TIMESTAMPTZ      NOT NULL,
	status              TEXT             NOT NULL,
	queue_depth         INTEGER          NOT NULL,
	depth_low           INTEGER          NOT NULL,
	depth_normal        INTEGER          NOT NULL,
	depth_high          INTEGER          NOT NULL,
	depth_critical      INTEGER          NOT NULL,
	connected_clients   INTEGER          NOT NULL,
	events_published    BIGINT           NOT NULL,
	events_processed    BIGINT           NOT NULL,
	events_dropped      BIGINT           NOT NULL,
	dropped_queue_full  BIGINT           NOT NULL,
	dropped_ttl         BIGINT           NOT NULL,
	dropped_delivery    BIGINT           NOT NULL,
	dropped_internal    BIGINT           NOT NULL,
	events_unrouted     BIGINT           NOT NULL,
	events_per_second   DOUBLE PRECISION NOT NULL,
	avg_latency_ms      DOUBLE PRECISION NOT NULL,
	cpu_percent         DOUBLE PRECISION NOT NULL,
	rss_mb              DOUBLE PRECISION NOT NULL
)`

const createHealthIndex = `
CREATE INDEX IF NOT EXISTS router_health_samples_sampled_at_idx
	ON router_health_samples (sampled_at DESC)`

// EnsureSchema creates the health-history table if it does not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, createHealthTable); err != nil {
		return fmt.Errorf("create router_health_samples: %w", err)
	}
	if _, err := db.Exec(ctx, createHealthIndex); err != nil {
		return fmt.Errorf("create router_health_samples index: %w", err)
	}
	return nil
}
