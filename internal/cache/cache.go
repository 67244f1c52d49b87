// Package cache provides at-most-once prompt execution per fingerprint
// within one run's scope, with resume-after-interrupt through the run
// database's cache_table.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Fingerprint computes the cache key of a prompt execution: a sha256 over
// the identifying tuple. Fields are length-delimited so no two tuples can
// collide by concatenation.
func Fingerprint(endpointID, recipeID, promptTemplateID, datasetID, prompt, target string) string {
	h := sha256.New()
	for _, field := range []string{endpointID, recipeID, promptTemplateID, datasetID, prompt, target} {
		var lenBuf [8]byte
		n := len(field)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache fronts the run database's cache_table with an in-memory snapshot.
// Lookups read the snapshot without touching the database; inserts buffer
// until Flush, which must run before the run database closes.
type Cache struct {
	dao storage.CacheDAO

	mu       sync.RWMutex
	snapshot map[string]types.CacheRecord
	pending  []types.CacheRecord
}

// New creates the cache_table if absent and loads the point-in-time
// snapshot used for resume: fingerprints already carrying a predicted
// result will not re-dispatch.
func New(ctx context.Context, db *storage.DB) (*Cache, error) {
	dao := storage.NewCacheDAO(db)
	if err := dao.CreateTable(ctx); err != nil {
		return nil, err
	}
	records, err := dao.All(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]types.CacheRecord, len(records))
	for _, r := range records {
		snapshot[r.Fingerprint] = r
	}
	return &Cache{dao: dao, snapshot: snapshot}, nil
}

// Lookup returns the cached record for a fingerprint, if present.
func (c *Cache) Lookup(fingerprint string) (*types.CacheRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.snapshot[fingerprint]
	if !ok {
		return nil, false
	}
	out := record
	return &out, true
}

// Insert records a prompt result. Idempotent on the fingerprint: a
// re-insert replaces the previous entry only when that entry lacks a
// predicted result, so completed executions survive resumes.
func (c *Cache) Insert(record types.CacheRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.snapshot[record.Fingerprint]; ok && prev.PredictedResult != nil {
		return
	}
	c.snapshot[record.Fingerprint] = record
	c.pending = append(c.pending, record)
}

// Len returns the number of fingerprints known to the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshot)
}

// Flush persists buffered inserts to the run database. It must be called
// before the database closes; a crash between dispatch and flush simply
// re-dispatches the affected fingerprints on the next run.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := c.dao.UpsertBatch(ctx, pending); err != nil {
		// Put the batch back so a later flush can retry.
		c.mu.Lock()
		c.pending = append(pending, c.pending...)
		c.mu.Unlock()
		return err
	}
	return nil
}
