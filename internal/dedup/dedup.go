package dedup

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

// Deduplicator gates ingestion on the processed-message ledger. The ledger
// insert is the decision; the redis cache only short-circuits replays.
type Deduplicator struct {
	db    *sqlx.DB
	cache *util.SeenCache
	now   func() time.Time
}

// New returns a gate. cache may be nil.
func New(db *sqlx.DB, cache *util.SeenCache) *Deduplicator {
	return &Deduplicator{db: db, cache: cache, now: time.Now}
}

func (d *Deduplicator) SetClock(now func() time.Time) {
	d.now = now
}

// Seen is the cache fast path. False means "ask the ledger".
func (d *Deduplicator) Seen(ctx context.Context, messageID, mailbox string) bool {
	return d.cache.Seen(ctx, mailbox, messageID)
}

// Admit records the pair and reports whether this caller is the first.
// Concurrent callers for one pair get exactly one true.
func (d *Deduplicator) Admit(ctx context.Context, messageID, mailbox string) (bool, error) {
	if d.Seen(ctx, messageID, mailbox) {
		metrics.IncrementIngest("duplicate")
		return false, nil
	}
	ok, err := d.AdmitIn(ctx, d.db, messageID, mailbox)
	if err != nil {
		return false, err
	}
	if ok {
		d.Committed(ctx, messageID, mailbox)
	}
	return ok, nil
}

// AdmitIn inserts into the ledger through q, usually a transaction that
// also creates the email. Call Committed once that transaction commits.
func (d *Deduplicator) AdmitIn(ctx context.Context, q repository.DB, messageID, mailbox string) (bool, error) {
	ok, err := repository.NewProcessedRepository(q).Insert(ctx, messageID, mailbox, d.now())
	if err != nil {
		metrics.IncrementIngest("failed")
		return false, err
	}
	if !ok {
		metrics.IncrementIngest("duplicate")
		// A committed row the cache forgot; remember it for next time.
		d.cache.Remember(ctx, mailbox, messageID)
		return false, nil
	}
	metrics.IncrementIngest("admitted")
	return true, nil
}

// Committed warms the cache for an admitted pair.
func (d *Deduplicator) Committed(ctx context.Context, messageID, mailbox string) {
	d.cache.Remember(ctx, mailbox, messageID)
}

// Forget releases an admitted pair whose work did not complete, so a
// redelivery is admitted again.
func (d *Deduplicator) Forget(ctx context.Context, messageID, mailbox string) error {
	d.cache.Forget(ctx, mailbox, messageID)
	return repository.NewProcessedRepository(d.db).Delete(ctx, messageID, mailbox)
}
