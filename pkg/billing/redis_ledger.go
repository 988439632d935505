package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedEventLedger decorates an EventLedger with a Redis advisory fast path.
// The cache only accelerates the HasProcessed pre-check on obvious
// redeliveries; correctness still rests entirely on the wrapped ledger's
// uniqueness constraint. Cache failures degrade to the wrapped ledger.
type CachedEventLedger struct {
	next EventLedger
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  *slog.Logger
}

// NewCachedEventLedger wraps next with a Redis marker keyed by event id.
// TTL bounds the marker lifetime; expired markers just fall through to next.
func NewCachedEventLedger(next EventLedger, rdb redis.UniversalClient, ttl time.Duration, log *slog.Logger) *CachedEventLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedEventLedger{next: next, rdb: rdb, ttl: ttl, log: log}
}

func ledgerKey(eventID string) string {
	return "billing:event:" + eventID
}

func (c *CachedEventLedger) HasProcessed(ctx context.Context, externalEventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, ledgerKey(externalEventID)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		c.log.WarnContext(ctx, "ledger cache read failed", "event_id", externalEventID, "error", err)
	}
	return c.next.HasProcessed(ctx, externalEventID)
}

func (c *CachedEventLedger) RecordProcessed(ctx context.Context, entry LedgerEntry) error {
	err := c.next.RecordProcessed(ctx, entry)
	if err != nil && !errors.Is(err, ErrDuplicateEvent) {
		return err
	}

	// Mark regardless of who won the insert; the marker is purely advisory.
	if setErr := c.rdb.Set(ctx, ledgerKey(entry.ExternalEventID), "1", c.ttl).Err(); setErr != nil {
		c.log.WarnContext(ctx, "ledger cache write failed", "event_id", entry.ExternalEventID, "error", setErr)
	}
	return err
}
