package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// CacheDAO persists prompt results in the run database's cache_table, keyed
// by the prompt fingerprint.
type CacheDAO interface {
	CreateTable(ctx context.Context) error
	Get(ctx context.Context, fingerprint string) (*types.CacheRecord, error)
	Upsert(ctx context.Context, record *types.CacheRecord) error
	UpsertBatch(ctx context.Context, records []types.CacheRecord) error
	All(ctx context.Context) ([]types.CacheRecord, error)
}

type cacheDAO struct {
	db *DB
}

// NewCacheDAO creates a CacheDAO over the given run database.
func NewCacheDAO(db *DB) CacheDAO {
	return &cacheDAO{db: db}
}

const createCacheTableSQL = `
	CREATE TABLE IF NOT EXISTS cache_table (
		prompt_fingerprint TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL,
		recipe_id TEXT NOT NULL,
		prompt_template_id TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		target TEXT NOT NULL,
		predicted_result TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0
	)
`

// CreateTable creates cache_table if absent.
func (d *cacheDAO) CreateTable(ctx context.Context) error {
	if _, err := d.db.Exec(ctx, createCacheTableSQL); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "creating cache_table", err)
	}
	return nil
}

// Get fetches one cache row, or nil when the fingerprint is absent.
func (d *cacheDAO) Get(ctx context.Context, fingerprint string) (*types.CacheRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT prompt_fingerprint, endpoint_id, recipe_id, prompt_template_id,
		       dataset_id, prompt, target, predicted_result, duration_ns
		FROM cache_table WHERE prompt_fingerprint = ?`, fingerprint)
	record, err := scanCache(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "fetching cache record", err)
	}
	return record, nil
}

// Upsert inserts a cache row. On conflict the existing row is overwritten
// only when it lacks a predicted_result, preserving completed executions
// across resume.
func (d *cacheDAO) Upsert(ctx context.Context, record *types.CacheRecord) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertCacheTx(ctx, tx, record)
	})
}

// UpsertBatch inserts multiple cache rows in one transaction.
func (d *cacheDAO) UpsertBatch(ctx context.Context, records []types.CacheRecord) error {
	if len(records) == 0 {
		return nil
	}
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range records {
			if err := upsertCacheTx(ctx, tx, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertCacheTx(ctx context.Context, tx *sql.Tx, record *types.CacheRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cache_table (
			prompt_fingerprint, endpoint_id, recipe_id, prompt_template_id,
			dataset_id, prompt, target, predicted_result, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prompt_fingerprint) DO UPDATE SET
			predicted_result = excluded.predicted_result,
			duration_ns = excluded.duration_ns
		WHERE cache_table.predicted_result IS NULL`,
		record.Fingerprint, record.EndpointID, record.RecipeID,
		record.PromptTemplate, record.DatasetID, record.Prompt, record.Target,
		nullableString(record.PredictedResult), int64(record.Duration),
	)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "upserting cache record", err)
	}
	return nil
}

// All returns every cache row; used to build the in-memory snapshot on run
// start so resumed runs skip completed fingerprints without per-prompt
// queries.
func (d *cacheDAO) All(ctx context.Context) ([]types.CacheRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT prompt_fingerprint, endpoint_id, recipe_id, prompt_template_id,
		       dataset_id, prompt, target, predicted_result, duration_ns
		FROM cache_table`)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "listing cache records", err)
	}
	defer rows.Close()

	var records []types.CacheRecord
	for rows.Next() {
		record, err := scanCache(rows.Scan)
		if err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "scanning cache record", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanCache(scan func(...any) error) (*types.CacheRecord, error) {
	var (
		record     types.CacheRecord
		predicted  sql.NullString
		durationNS int64
	)
	err := scan(
		&record.Fingerprint, &record.EndpointID, &record.RecipeID,
		&record.PromptTemplate, &record.DatasetID, &record.Prompt,
		&record.Target, &predicted, &durationNS,
	)
	if err != nil {
		return nil, err
	}
	if predicted.Valid {
		v := predicted.String
		record.PredictedResult = &v
	}
	record.Duration = time.Duration(durationNS)
	return &record, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
