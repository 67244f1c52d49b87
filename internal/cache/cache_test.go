package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

func testCache(t *testing.T) (*Cache, *storage.DB) {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := New(context.Background(), db)
	require.NoError(t, err)
	return c, db
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("ep", "bbq", "no-template", "ds", "A", "yes")
	b := Fingerprint("ep", "bbq", "no-template", "ds", "A", "yes")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Fingerprint("ep", "bbq", "no-template", "ds", "A", "no"))
	assert.NotEqual(t, a, Fingerprint("ep2", "bbq", "no-template", "ds", "A", "yes"))
	// Field boundaries matter: shifting a character across fields must
	// change the fingerprint.
	assert.NotEqual(t,
		Fingerprint("ep", "ab", "c", "ds", "A", "yes"),
		Fingerprint("ep", "a", "bc", "ds", "A", "yes"))
}

func TestLookupMissAndHit(t *testing.T) {
	c, _ := testCache(t)

	fp := Fingerprint("ep", "r", "t", "d", "A", "yes")
	_, ok := c.Lookup(fp)
	assert.False(t, ok)

	record := types.CacheRecord{
		Fingerprint: fp, EndpointID: "ep", RecipeID: "r",
		PromptTemplate: "t", DatasetID: "d", Prompt: "A", Target: "yes",
	}
	record.PredictedResult = strPtr("yes")
	record.Duration = 40 * time.Millisecond
	c.Insert(record)

	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "yes", *got.PredictedResult)
	assert.Equal(t, 40*time.Millisecond, got.Duration)
}

func TestInsertDoesNotOverwriteCompleted(t *testing.T) {
	c, _ := testCache(t)
	fp := Fingerprint("ep", "r", "t", "d", "A", "yes")

	first := types.CacheRecord{Fingerprint: fp, PredictedResult: strPtr("original")}
	c.Insert(first)

	second := types.CacheRecord{Fingerprint: fp, PredictedResult: strPtr("changed")}
	c.Insert(second)

	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "original", *got.PredictedResult)
}

func TestInsertFillsPendingRow(t *testing.T) {
	c, _ := testCache(t)
	fp := Fingerprint("ep", "r", "t", "d", "A", "yes")

	c.Insert(types.CacheRecord{Fingerprint: fp})
	c.Insert(types.CacheRecord{Fingerprint: fp, PredictedResult: strPtr("done")})

	got, ok := c.Lookup(fp)
	require.True(t, ok)
	require.NotNil(t, got.PredictedResult)
	assert.Equal(t, "done", *got.PredictedResult)
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.db")

	db, err := storage.OpenDB(path)
	require.NoError(t, err)
	c, err := New(ctx, db)
	require.NoError(t, err)

	fp := Fingerprint("ep", "bbq", "no-template", "ds", "A", "yes")
	c.Insert(types.CacheRecord{
		Fingerprint: fp, EndpointID: "ep", RecipeID: "bbq",
		PromptTemplate: "no-template", DatasetID: "ds", Prompt: "A",
		Target: "yes", PredictedResult: strPtr("yes"),
	})
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, db.Close())

	// Reopen: the snapshot carries the completed fingerprint, so resume
	// will not re-dispatch it.
	db2, err := storage.OpenDB(path)
	require.NoError(t, err)
	defer db2.Close()
	c2, err := New(ctx, db2)
	require.NoError(t, err)

	got, ok := c2.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "yes", *got.PredictedResult)
	assert.Equal(t, 1, c2.Len())
}

func TestFlushEmptyIsNoop(t *testing.T) {
	c, _ := testCache(t)
	assert.NoError(t, c.Flush(context.Background()))
}

func strPtr(s string) *string { return &s }
