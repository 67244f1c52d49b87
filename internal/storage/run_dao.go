package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// RunDAO persists RunRecords in the run database's run_metadata table.
type RunDAO interface {
	CreateTable(ctx context.Context) error
	InsertRun(ctx context.Context, record *types.RunRecord) error
	UpdateRun(ctx context.Context, record *types.RunRecord) error
	GetRun(ctx context.Context, runID int64) (*types.RunRecord, error)
	ListRuns(ctx context.Context) ([]types.RunRecord, error)
}

type runDAO struct {
	db *DB
}

// NewRunDAO creates a RunDAO over the given run database.
func NewRunDAO(db *DB) RunDAO {
	return &runDAO{db: db}
}

const createRunMetadataSQL = `
	CREATE TABLE IF NOT EXISTS run_metadata (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		runner_id TEXT NOT NULL,
		runner_type TEXT NOT NULL,
		runner_args TEXT NOT NULL DEFAULT '{}',
		endpoints TEXT NOT NULL DEFAULT '[]',
		results_file TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		duration REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_messages TEXT NOT NULL DEFAULT '[]',
		raw_runs TEXT NOT NULL DEFAULT '{}'
	)
`

// CreateTable creates run_metadata if absent.
func (d *runDAO) CreateTable(ctx context.Context) error {
	if _, err := d.db.Exec(ctx, createRunMetadataSQL); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "creating run_metadata", err)
	}
	return nil
}

// InsertRun inserts a new run row and fills record.RunID from the
// auto-incremented key.
func (d *runDAO) InsertRun(ctx context.Context, record *types.RunRecord) error {
	endpoints, runnerArgs, errMsgs, rawRuns, err := marshalRunFields(record)
	if err != nil {
		return err
	}

	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO run_metadata (
				runner_id, runner_type, runner_args, endpoints, results_file,
				start_time, end_time, duration, status, error_messages, raw_runs
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.RunnerID, string(record.RunnerType), runnerArgs, endpoints,
			record.ResultsFile, record.StartTime, nullableTime(record.EndTime),
			record.Duration, string(record.Status), errMsgs, rawRuns,
		)
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "inserting run record", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "reading run id", err)
		}
		record.RunID = id
		return nil
	})
}

// UpdateRun rewrites an existing run row.
func (d *runDAO) UpdateRun(ctx context.Context, record *types.RunRecord) error {
	if record.RunID == 0 {
		return types.NewError(types.VALIDATION_FAILED, "run record has no run_id")
	}
	endpoints, runnerArgs, errMsgs, rawRuns, err := marshalRunFields(record)
	if err != nil {
		return err
	}

	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE run_metadata SET
				runner_id = ?, runner_type = ?, runner_args = ?, endpoints = ?,
				results_file = ?, start_time = ?, end_time = ?, duration = ?,
				status = ?, error_messages = ?, raw_runs = ?
			WHERE run_id = ?`,
			record.RunnerID, string(record.RunnerType), runnerArgs, endpoints,
			record.ResultsFile, record.StartTime, nullableTime(record.EndTime),
			record.Duration, string(record.Status), errMsgs, rawRuns, record.RunID,
		)
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "updating run record", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "checking update", err)
		}
		if n == 0 {
			return types.NewError(types.NOT_FOUND, fmt.Sprintf("run %d does not exist", record.RunID))
		}
		return nil
	})
}

// GetRun fetches one run row by id.
func (d *runDAO) GetRun(ctx context.Context, runID int64) (*types.RunRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT run_id, runner_id, runner_type, runner_args, endpoints, results_file,
		       start_time, end_time, duration, status, error_messages, raw_runs
		FROM run_metadata WHERE run_id = ?`, runID)
	record, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.NOT_FOUND, fmt.Sprintf("run %d does not exist", runID))
	}
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "fetching run record", err)
	}
	return record, nil
}

// ListRuns returns all run rows ordered by run_id.
func (d *runDAO) ListRuns(ctx context.Context) ([]types.RunRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT run_id, runner_id, runner_type, runner_args, endpoints, results_file,
		       start_time, end_time, duration, status, error_messages, raw_runs
		FROM run_metadata ORDER BY run_id`)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "listing run records", err)
	}
	defer rows.Close()

	var records []types.RunRecord
	for rows.Next() {
		record, err := scanRun(rows.Scan)
		if err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "scanning run record", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func marshalRunFields(record *types.RunRecord) (endpoints, runnerArgs, errMsgs, rawRuns string, err error) {
	epRaw, err := json.Marshal(record.Endpoints)
	if err != nil {
		return "", "", "", "", types.WrapError(types.VALIDATION_FAILED, "serializing endpoints", err)
	}
	msgs := record.ErrorMessages
	if msgs == nil {
		msgs = []string{}
	}
	msgRaw, err := json.Marshal(msgs)
	if err != nil {
		return "", "", "", "", types.WrapError(types.VALIDATION_FAILED, "serializing error messages", err)
	}
	args := record.RunnerArgs
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	raw := record.RawRuns
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return string(epRaw), string(args), string(msgRaw), string(raw), nil
}

func scanRun(scan func(...any) error) (*types.RunRecord, error) {
	var (
		record     types.RunRecord
		runnerType string
		status     string
		runnerArgs string
		endpoints  string
		errMsgs    string
		rawRuns    string
		endTime    sql.NullTime
	)
	err := scan(
		&record.RunID, &record.RunnerID, &runnerType, &runnerArgs, &endpoints,
		&record.ResultsFile, &record.StartTime, &endTime, &record.Duration,
		&status, &errMsgs, &rawRuns,
	)
	if err != nil {
		return nil, err
	}
	record.RunnerType = types.RunnerType(runnerType)
	record.Status = types.RunStatus(status)
	record.RunnerArgs = json.RawMessage(runnerArgs)
	record.RawRuns = json.RawMessage(rawRuns)
	if endTime.Valid {
		record.EndTime = endTime.Time
	}
	if err := json.Unmarshal([]byte(endpoints), &record.Endpoints); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(errMsgs), &record.ErrorMessages); err != nil {
		return nil, err
	}
	return &record, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
