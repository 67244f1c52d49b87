package types

import "time"

// SessionState tracks the lifecycle of a red-teaming session row.
type SessionState string

const (
	// SessionActive marks a session created and usable for prompting.
	SessionActive SessionState = "active"
	// SessionDeleted marks a session removed along with its chat records.
	SessionDeleted SessionState = "deleted"
)

// SessionMetadata is the single session row persisted per runner in the run
// database. Every update_* operation rewrites the row atomically so a
// reloaded Runner resumes with the previous configuration.
type SessionMetadata struct {
	RunnerID            string       `json:"runner_id"`
	Endpoints           []string     `json:"endpoints"`
	CreatedTime         time.Time    `json:"created_time"`
	AttackModuleID      string       `json:"attack_module_id"`
	ContextStrategyID   string       `json:"context_strategy_id"`
	NumOfPrevPrompts    int          `json:"num_of_prev_prompts"`
	PromptTemplateID    string       `json:"prompt_template_id"`
	MetricID            string       `json:"metric_id"`
	SystemPrompt        string       `json:"system_prompt"`
	CSNumOfPrevPrompts  int          `json:"cs_num_of_prev_prompts"`
	State               SessionState `json:"state"`
}

// ChatRecord is one entry of an endpoint's append-only chat history.
// Records within an endpoint are strictly ordered by PromptTime, taken at
// dispatch start.
type ChatRecord struct {
	ChatRecordID    int64         `json:"chat_record_id"`
	ConnectionID    string        `json:"connection_id"`
	Prompt          string        `json:"prompt"`
	PreparedPrompt  string        `json:"prepared_prompt"`
	PredictedResult *string       `json:"predicted_result"`
	Duration        time.Duration `json:"duration"`
	ContextStrategy string        `json:"context_strategy"`
	PromptTemplate  string        `json:"prompt_template"`
	AttackModule    string        `json:"attack_module"`
	Metric          string        `json:"metric"`
	MetricScore     string        `json:"metric_score,omitempty"`
	PromptTime      time.Time     `json:"prompt_time"`
}

// Predicted returns the predicted result or "" when the dispatch failed.
func (c *ChatRecord) Predicted() string {
	if c.PredictedResult == nil {
		return ""
	}
	return *c.PredictedResult
}

// BookmarkRecord is a uniquely named capture of one chat exchange.
type BookmarkRecord struct {
	Name            string `json:"name"`
	Prompt          string `json:"prompt"`
	PreparedPrompt  string `json:"prepared_prompt"`
	Response        string `json:"response"`
	ContextStrategy string `json:"context_strategy"`
	PromptTemplate  string `json:"prompt_template"`
	AttackModule    string `json:"attack_module"`
	Metric          string `json:"metric"`
	BookmarkTime    string `json:"bookmark_time"`
}

// Validate checks the bookmark for structural errors.
func (b *BookmarkRecord) Validate() error {
	if b.Name == "" {
		return NewError(VALIDATION_FAILED, "bookmark name is required")
	}
	return nil
}
