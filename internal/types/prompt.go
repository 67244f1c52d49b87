package types

import "time"

// ConnectorPromptArguments carries one prompt through the dispatch pipeline.
// The engine fills the identity and prompt fields before submission; the
// connector pool fills PredictedResult, Duration, and Error on the way back.
// PromptIndex is assigned at submission time and is the sort key that
// restores submission order after concurrent dispatch.
type ConnectorPromptArguments struct {
	PromptIndex     int           `json:"prompt_index"`
	Prompt          string        `json:"prompt"`
	PreparedPrompt  string        `json:"prepared_prompt"`
	Target          any           `json:"target"`
	SystemPrompt    string        `json:"system_prompt,omitempty"`
	PredictedResult *string       `json:"predicted_result"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
}

// Predicted returns the predicted result or "" when the prompt failed.
func (a *ConnectorPromptArguments) Predicted() string {
	if a.PredictedResult == nil {
		return ""
	}
	return *a.PredictedResult
}

// SetPredicted records a successful prediction.
func (a *ConnectorPromptArguments) SetPredicted(result string) {
	a.PredictedResult = &result
}
