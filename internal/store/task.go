package store

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusQueued Status = "queued"
	StatusLeased Status = "leased"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Task is the sole entity the store manages: an immutable identity with a
// mutable status column.
type Task struct {
	TaskID        int64   `json:"task_id"`
	Prompt        string  `json:"prompt"`
	SystemPrompt  *string `json:"system_prompt,omitempty"`
	Type          string  `json:"type"`
	Status        Status  `json:"status"`
	CreatedAt     float64 `json:"created_at"`
	UpdatedAt     float64 `json:"updated_at"`
	LeasedUntil   *float64 `json:"leased_until,omitempty"`
	WorkerID      *string `json:"worker_id,omitempty"`
	Result        *string `json:"result,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// Stats is the aggregated snapshot returned by Store.Stats.
type Stats struct {
	Queued                int     `json:"queued"`
	Leased                int     `json:"leased"`
	Done                  int     `json:"done"`
	Failed                int     `json:"failed"`
	TotalTasks            int     `json:"total_tasks"`
	CompletedLastHour     int     `json:"completed_last_hour"`
	AvgCompletionTimeSec  float64 `json:"avg_completion_time_sec"`
	ErrorRatePercent      float64 `json:"error_rate_percent"`
}
