package domain

import (
	"time"
)

// ProgressStage names a step of backend agent work.
type ProgressStage string

const (
	StageProcessing         ProgressStage = "processing"
	StageAnalyzing          ProgressStage = "analyzing"
	StageToolExecution      ProgressStage = "tool_execution"
	StageToolSuccess        ProgressStage = "tool_success"
	StageToolError          ProgressStage = "tool_error"
	StageSQLGeneration      ProgressStage = "sql_generation"
	StageSQLExecuted        ProgressStage = "sql_executed"
	StageSQLError           ProgressStage = "sql_error"
	StageLLMSummarizing     ProgressStage = "llm_summarizing"
	StageGeneratingResponse ProgressStage = "generating_response"
	StageCompleted          ProgressStage = "completed"
)

// StageOutcome groups stages the way the status console colours them.
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "success"
	OutcomeFailure StageOutcome = "failure"
	OutcomeWorking StageOutcome = "working"
	OutcomeAction  StageOutcome = "action"
)

// Valid reports whether s is a known stage.
func (s ProgressStage) Valid() bool {
	return s.Outcome() != ""
}

// Outcome classifies the stage. Unknown stages return "".
func (s ProgressStage) Outcome() StageOutcome {
	switch s {
	case StageCompleted, StageToolSuccess, StageSQLExecuted:
		return OutcomeSuccess
	case StageToolError, StageSQLError:
		return OutcomeFailure
	case StageProcessing, StageAnalyzing, StageLLMSummarizing, StageGeneratingResponse:
		return OutcomeWorking
	case StageToolExecution, StageSQLGeneration:
		return OutcomeAction
	}
	return ""
}

// ProgressDetails carries auxiliary fields of a progress event. The set of keys
// is open; the accessors below cover the ones the backend is known to send.
type ProgressDetails map[string]any

// Tool returns the tool name, if any.
func (d ProgressDetails) Tool() string { return d.str("tool") }

// SQL returns the generated SQL text, if any.
func (d ProgressDetails) SQL() string { return d.str("sql") }

// Error returns the error text, if any.
func (d ProgressDetails) Error() string { return d.str("error") }

// Arguments returns the tool arguments, if any.
func (d ProgressDetails) Arguments() map[string]any {
	if args, ok := d["arguments"].(map[string]any); ok {
		return args
	}
	return nil
}

// RowCount returns the SQL row count and whether it was present.
func (d ProgressDetails) RowCount() (int, bool) { return d.num("row_count") }

// OutputLength returns the tool output length and whether it was present.
func (d ProgressDetails) OutputLength() (int, bool) { return d.num("output_length") }

func (d ProgressDetails) str(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func (d ProgressDetails) num(key string) (int, bool) {
	switch v := d[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

// ProgressEvent is a status update about work the agent is doing.
type ProgressEvent struct {
	Stage     ProgressStage   `json:"stage"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	Details   ProgressDetails `json:"details,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e ProgressEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}
