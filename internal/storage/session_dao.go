package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// SessionDAO persists red-teaming session state: a single session_metadata
// row per runner plus one append-only chat_history table per endpoint,
// created on first write.
type SessionDAO interface {
	CreateTable(ctx context.Context) error
	SaveSession(ctx context.Context, meta *types.SessionMetadata) error
	GetSession(ctx context.Context, runnerID string) (*types.SessionMetadata, error)
	DeleteSession(ctx context.Context, runnerID string, endpoints []string) error

	AppendChatRecord(ctx context.Context, endpointID string, record *types.ChatRecord) error
	GetChatRecords(ctx context.Context, endpointID string) ([]types.ChatRecord, error)
	LastChatRecords(ctx context.Context, endpointID string, n int) ([]types.ChatRecord, error)

	// ValidateEndpoints fails with DB_SCHEMA_MISMATCH when the database
	// carries chat history for an endpoint outside the given set. Guards
	// against silently reusing a run database across differing endpoint
	// sets.
	ValidateEndpoints(ctx context.Context, endpoints []string) error
}

type sessionDAO struct {
	db *DB
}

// NewSessionDAO creates a SessionDAO over the given run database.
func NewSessionDAO(db *DB) SessionDAO {
	return &sessionDAO{db: db}
}

const createSessionMetadataSQL = `
	CREATE TABLE IF NOT EXISTS session_metadata (
		runner_id TEXT PRIMARY KEY,
		endpoints TEXT NOT NULL DEFAULT '[]',
		created_time TIMESTAMP NOT NULL,
		attack_module_id TEXT NOT NULL DEFAULT '',
		context_strategy_id TEXT NOT NULL DEFAULT '',
		num_of_prev_prompts INTEGER NOT NULL DEFAULT 0,
		prompt_template_id TEXT NOT NULL DEFAULT '',
		metric_id TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		cs_num_of_prev_prompts INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'active'
	)
`

// CreateTable creates session_metadata if absent.
func (d *sessionDAO) CreateTable(ctx context.Context) error {
	if _, err := d.db.Exec(ctx, createSessionMetadataSQL); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "creating session_metadata", err)
	}
	return nil
}

// SaveSession atomically rewrites the session row for the runner.
func (d *sessionDAO) SaveSession(ctx context.Context, meta *types.SessionMetadata) error {
	endpoints, err := json.Marshal(meta.Endpoints)
	if err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "serializing session endpoints", err)
	}
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO session_metadata (
				runner_id, endpoints, created_time, attack_module_id,
				context_strategy_id, num_of_prev_prompts, prompt_template_id,
				metric_id, system_prompt, cs_num_of_prev_prompts, state
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.RunnerID, string(endpoints), meta.CreatedTime,
			meta.AttackModuleID, meta.ContextStrategyID, meta.NumOfPrevPrompts,
			meta.PromptTemplateID, meta.MetricID, meta.SystemPrompt,
			meta.CSNumOfPrevPrompts, string(meta.State),
		)
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "saving session metadata", err)
		}
		return nil
	})
}

// GetSession fetches the session row, or nil when none exists.
func (d *sessionDAO) GetSession(ctx context.Context, runnerID string) (*types.SessionMetadata, error) {
	exists, err := d.db.TableExists(ctx, "session_metadata")
	if err != nil || !exists {
		return nil, err
	}
	var (
		meta      types.SessionMetadata
		endpoints string
		state     string
	)
	err = d.db.QueryRowContext(ctx, `
		SELECT runner_id, endpoints, created_time, attack_module_id,
		       context_strategy_id, num_of_prev_prompts, prompt_template_id,
		       metric_id, system_prompt, cs_num_of_prev_prompts, state
		FROM session_metadata WHERE runner_id = ?`, runnerID).Scan(
		&meta.RunnerID, &endpoints, &meta.CreatedTime, &meta.AttackModuleID,
		&meta.ContextStrategyID, &meta.NumOfPrevPrompts, &meta.PromptTemplateID,
		&meta.MetricID, &meta.SystemPrompt, &meta.CSNumOfPrevPrompts, &state,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "fetching session metadata", err)
	}
	meta.State = types.SessionState(state)
	if err := json.Unmarshal([]byte(endpoints), &meta.Endpoints); err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "parsing session endpoints", err)
	}
	return &meta, nil
}

// DeleteSession removes the session row and drops the chat history of every
// endpoint in the session.
func (d *sessionDAO) DeleteSession(ctx context.Context, runnerID string, endpoints []string) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_metadata WHERE runner_id = ?`, runnerID); err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "deleting session metadata", err)
		}
		for _, ep := range endpoints {
			table := chatTableName(ep)
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
				return types.WrapError(types.DB_QUERY_FAILED, "dropping "+table, err)
			}
		}
		return nil
	})
}

const chatTablePrefix = "chat_history_"

// chatTableName maps an endpoint slug to its chat history table. Slug
// hyphens become underscores so the name needs no quoting.
func chatTableName(endpointID string) string {
	return chatTablePrefix + strings.ReplaceAll(endpointID, "-", "_")
}

func createChatTableSQL(table string) string {
	return `
	CREATE TABLE IF NOT EXISTS ` + table + ` (
		chat_record_id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		prepared_prompt TEXT NOT NULL,
		predicted_result TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		context_strategy TEXT NOT NULL DEFAULT '',
		prompt_template TEXT NOT NULL DEFAULT '',
		attack_module TEXT NOT NULL DEFAULT '',
		metric TEXT NOT NULL DEFAULT '',
		metric_score TEXT NOT NULL DEFAULT '',
		prompt_time TIMESTAMP NOT NULL
	)`
}

// AppendChatRecord appends one record to the endpoint's chat history,
// creating the table on first write. The record's ChatRecordID is filled
// from the auto-incremented key.
func (d *sessionDAO) AppendChatRecord(ctx context.Context, endpointID string, record *types.ChatRecord) error {
	table := chatTableName(endpointID)
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createChatTableSQL(table)); err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "creating "+table, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (
				connection_id, prompt, prepared_prompt, predicted_result,
				duration_ns, context_strategy, prompt_template, attack_module,
				metric, metric_score, prompt_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ConnectionID, record.Prompt, record.PreparedPrompt,
			nullableString(record.PredictedResult), int64(record.Duration),
			record.ContextStrategy, record.PromptTemplate, record.AttackModule,
			record.Metric, record.MetricScore, record.PromptTime,
		)
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "appending chat record", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "reading chat record id", err)
		}
		record.ChatRecordID = id
		return nil
	})
}

// GetChatRecords returns the full chat history of an endpoint ordered by
// prompt time. A missing table yields an empty history.
func (d *sessionDAO) GetChatRecords(ctx context.Context, endpointID string) ([]types.ChatRecord, error) {
	return d.queryChat(ctx, endpointID, 0)
}

// LastChatRecords returns the most recent n records of an endpoint's chat
// history, still in chronological order.
func (d *sessionDAO) LastChatRecords(ctx context.Context, endpointID string, n int) ([]types.ChatRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	records, err := d.queryChat(ctx, endpointID, 0)
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (d *sessionDAO) queryChat(ctx context.Context, endpointID string, limit int) ([]types.ChatRecord, error) {
	table := chatTableName(endpointID)
	exists, err := d.db.TableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	query := `
		SELECT chat_record_id, connection_id, prompt, prepared_prompt,
		       predicted_result, duration_ns, context_strategy, prompt_template,
		       attack_module, metric, metric_score, prompt_time
		FROM ` + table + ` ORDER BY prompt_time, chat_record_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "listing chat records", err)
	}
	defer rows.Close()

	var records []types.ChatRecord
	for rows.Next() {
		var (
			record     types.ChatRecord
			predicted  sql.NullString
			durationNS int64
		)
		err := rows.Scan(
			&record.ChatRecordID, &record.ConnectionID, &record.Prompt,
			&record.PreparedPrompt, &predicted, &durationNS,
			&record.ContextStrategy, &record.PromptTemplate,
			&record.AttackModule, &record.Metric, &record.MetricScore,
			&record.PromptTime,
		)
		if err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "scanning chat record", err)
		}
		if predicted.Valid {
			v := predicted.String
			record.PredictedResult = &v
		}
		record.Duration = time.Duration(durationNS)
		records = append(records, record)
	}
	return records, rows.Err()
}

// ValidateEndpoints checks every existing chat table belongs to an endpoint
// in the given set.
func (d *sessionDAO) ValidateEndpoints(ctx context.Context, endpoints []string) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`,
		chatTablePrefix+"%")
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "listing chat tables", err)
	}
	defer rows.Close()

	allowed := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		allowed[chatTableName(ep)] = struct{}{}
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, "scanning table name", err)
		}
		if _, ok := allowed[name]; !ok {
			return types.NewError(types.DB_SCHEMA_MISMATCH,
				"run database carries chat history for unknown endpoint table "+name)
		}
	}
	return rows.Err()
}
