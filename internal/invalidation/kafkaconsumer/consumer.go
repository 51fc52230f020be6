// Package kafkaconsumer applies invalidation events from Kafka to the site
// store. Redeliveries of the same event are absorbed by a small seen-set so
// processing stays idempotent.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/core/observability"
	"github.com/roamplan/sitecache/internal/invalidation"
)

// Invalidator is the slice of the site store the consumer needs.
type Invalidator interface {
	DeleteSites(ctx context.Context, ids []int64) error
	InvalidateBounds(ctx context.Context, b model.Bounds) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  Invalidator
	seen   *lru.Cache[string, struct{}]
}

func New(cfg Config, logger *slog.Logger, store Invalidator) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](4096)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	return &Consumer{cfg: cfg, logger: logger, store: store, seen: seen}, nil
}

// Start consumes invalidation events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing store dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := claimRunner{apply: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single invalidation message. Malformed messages are
// dropped with a log line rather than wedging the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveInvalidation("decode", err)
		c.logger.Warn("invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(ev.Op, err)
		c.logger.Warn("invalidation event rejected",
			"op", ev.Op, "offset", msg.Offset, "err", err)
		return nil
	}

	if _, dup := c.seen.Get(ev.Key()); dup {
		c.logger.Debug("invalidation event already applied", "key", ev.Key())
		return nil
	}

	var err error
	switch {
	case len(ev.SiteIDs) > 0:
		err = c.store.DeleteSites(ctx, ev.SiteIDs)
	case ev.Bounds != nil:
		err = c.store.InvalidateBounds(ctx, *ev.Bounds)
	}
	observability.ObserveInvalidation(ev.Op, err)
	if err != nil {
		// store failures are retryable; leave the message unmarked
		return fmt.Errorf("apply invalidation: %w", err)
	}

	c.seen.Add(ev.Key(), struct{}{})
	c.logger.Debug("invalidation applied",
		"op", ev.Op, "ids", len(ev.SiteIDs), "has_bounds", ev.Bounds != nil)
	return nil
}
