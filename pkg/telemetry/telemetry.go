// Package telemetry exports the latest pack state to Redis, the same way
// the other vehicle services publish theirs : a hash of current values
// plus a pub/sub notification for anyone following live updates.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/I-am-Invictus/honda-cb550/pkg/bms"
)

const (
	hashKey     = "charger:bms"
	pubChannel  = "charger telemetry"
	dialTimeout = 3 * time.Second
)

type Publisher struct {
	logger *slog.Logger
	rdb    *redis.Client
}

// NewPublisher connects to Redis and verifies the connection
func NewPublisher(logger *slog.Logger, addr string) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %v : %w", addr, err)
	}
	return &Publisher{
		logger: logger.With("service", "[TELEMETRY]"),
		rdb:    rdb,
	}, nil
}

// Publish writes one decoded snapshot plus the controller outputs.
// Errors are returned but a failed publish never matters to charging.
func (p *Publisher) Publish(ctx context.Context, snapshot *bms.Snapshot, stage string, setpointCurrent, setpointVoltage float64) error {
	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, hashKey, map[string]interface{}{
		"pack:voltage":       snapshot.PackVoltage,
		"pack:current":       snapshot.PackCurrent,
		"pack:soc":           snapshot.Soc,
		"pack:power":         snapshot.PackVoltage * snapshot.PackCurrent,
		"capacity:remaining": snapshot.RemainingCapacity,
		"cell:high:index":    snapshot.HighCell.Index,
		"cell:high:voltage":  snapshot.HighCell.Voltage,
		"cell:low:index":     snapshot.LowCell.Index,
		"cell:low:voltage":   snapshot.LowCell.Voltage,
		"mos:charge":         snapshot.ChargeMos.String(),
		"mos:discharge":      snapshot.DischargeMos.String(),
		"charge:stage":       stage,
		"charge:set-voltage": setpointVoltage,
		"charge:set-current": setpointCurrent,
	})
	pipe.Publish(ctx, pubChannel, "")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot : %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
