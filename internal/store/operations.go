package store

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Enqueue inserts a new row in status queued and returns its task_id.
func (s *Store) Enqueue(prompt string, systemPrompt *string, taskType string) (int64, error) {
	if taskType == "" {
		taskType = "chat"
	}
	now := nowUnix()

	res, err := s.db.Exec(`
		INSERT INTO tasks (prompt, system_prompt, type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, prompt, systemPrompt, taskType, StatusQueued, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue task: %w", wrapWriteErr(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted task id: %w", err)
	}
	return id, nil
}

// Lease atomically claims up to maxTasks rows eligible for leasing (queued,
// or leased with an expired lease) in a single statement, ordered by
// task_id ascending, and returns the updated rows.
func (s *Store) Lease(workerID string, maxTasks int, leaseSeconds int) ([]Task, error) {
	if maxTasks <= 0 {
		return nil, nil
	}

	now := nowUnix()
	leasedUntil := now + float64(leaseSeconds)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin lease transaction: %w", wrapWriteErr(err))
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		UPDATE tasks
		SET status = ?, updated_at = ?, leased_until = ?, worker_id = ?
		WHERE task_id IN (
			SELECT task_id FROM tasks
			WHERE status = ? OR (status = ? AND leased_until IS NOT NULL AND leased_until < ?)
			ORDER BY task_id ASC
			LIMIT ?
		)
		RETURNING task_id, prompt, system_prompt, type, status, created_at, updated_at,
		          leased_until, worker_id, result, error
	`, StatusLeased, now, leasedUntil, workerID, StatusQueued, StatusLeased, now, maxTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to lease tasks: %w", wrapWriteErr(err))
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan leased tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease transaction: %w", wrapWriteErr(err))
	}

	return tasks, nil
}

// Ack unconditionally writes the terminal state for task_id. Terminal
// status wins, last writer wins among simultaneous acks for the same
// task_id; an unknown task_id is a no-op.
func (s *Store) Ack(taskID int64, status Status, result *string, taskErr *string) error {
	statusNorm := Status(strings.ToLower(strings.TrimSpace(string(status))))
	if statusNorm != StatusDone && statusNorm != StatusFailed {
		return fmt.Errorf("ack status must be done or failed, got %q", status)
	}

	now := nowUnix()
	_, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, updated_at = ?, leased_until = NULL, result = ?, error = ?
		WHERE task_id = ?
	`, statusNorm, now, result, taskErr, taskID)
	if err != nil {
		return fmt.Errorf("failed to ack task %d: %w", taskID, wrapWriteErr(err))
	}
	return nil
}

// Approve forces task_id to done with a synthetic "Approved by <approver>"
// result, bypassing execution. Valid from any non-terminal state.
func (s *Store) Approve(taskID int64, approver string) error {
	if approver == "" {
		approver = "human"
	}
	now := nowUnix()
	result := fmt.Sprintf("Approved by %s", approver)

	_, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, updated_at = ?, leased_until = NULL, result = ?, worker_id = ?
		WHERE task_id = ? AND status IN (?, ?)
	`, StatusDone, now, result, approver, taskID, StatusQueued, StatusLeased)
	if err != nil {
		return fmt.Errorf("failed to approve task %d: %w", taskID, wrapWriteErr(err))
	}
	return nil
}

// List returns rows ordered by task_id descending, optionally filtered by
// status, capped at limit. limit <= 0 means unbounded.
func (s *Store) List(status *Status, limit int) ([]Task, error) {
	var rows *sql.Rows
	var err error

	switch {
	case status != nil && limit > 0:
		rows, err = s.db.Query(`SELECT task_id, prompt, system_prompt, type, status, created_at, updated_at,
			leased_until, worker_id, result, error FROM tasks WHERE status = ? ORDER BY task_id DESC LIMIT ?`,
			*status, limit)
	case status != nil:
		rows, err = s.db.Query(`SELECT task_id, prompt, system_prompt, type, status, created_at, updated_at,
			leased_until, worker_id, result, error FROM tasks WHERE status = ? ORDER BY task_id DESC`,
			*status)
	case limit > 0:
		rows, err = s.db.Query(`SELECT task_id, prompt, system_prompt, type, status, created_at, updated_at,
			leased_until, worker_id, result, error FROM tasks ORDER BY task_id DESC LIMIT ?`,
			limit)
	default:
		rows, err = s.db.Query(`SELECT task_id, prompt, system_prompt, type, status, created_at, updated_at,
			leased_until, worker_id, result, error FROM tasks ORDER BY task_id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", wrapWriteErr(err))
	}

	return scanTasks(rows)
}

// Stats returns the aggregated counts and derived completion metrics.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate task counts: %w", wrapWriteErr(err))
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch Status(status) {
		case StatusQueued:
			stats.Queued = n
		case StatusLeased:
			stats.Leased = n
		case StatusDone:
			stats.Done = n
		case StatusFailed:
			stats.Failed = n
		}
		stats.TotalTasks += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	rows.Close()

	oneHourAgo := nowUnix() - 3600
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = ? AND updated_at > ?`,
		StatusDone, oneHourAgo).Scan(&stats.CompletedLastHour); err != nil {
		return stats, fmt.Errorf("failed to count recent completions: %w", err)
	}

	var avgDur sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(updated_at - created_at) FROM tasks WHERE status = ?`,
		StatusDone).Scan(&avgDur); err != nil {
		return stats, fmt.Errorf("failed to average completion time: %w", err)
	}
	if avgDur.Valid {
		stats.AvgCompletionTimeSec = round2(avgDur.Float64)
	}

	if stats.Done+stats.Failed > 0 {
		stats.ErrorRatePercent = round2(100 * float64(stats.Failed) / float64(stats.Done+stats.Failed))
	}

	return stats, nil
}

// RetryAllFailed resets every failed row to queued, clearing worker_id,
// result, error, and leased_until, and returns the number of rows reset.
func (s *Store) RetryAllFailed() (int64, error) {
	now := nowUnix()
	res, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, updated_at = ?, leased_until = NULL, worker_id = NULL, result = NULL, error = NULL
		WHERE status = ?
	`, StatusQueued, now, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed tasks: %w", wrapWriteErr(err))
	}
	return res.RowsAffected()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var systemPrompt, workerID, result, taskErr sql.NullString
		var leasedUntil sql.NullFloat64

		if err := rows.Scan(
			&t.TaskID, &t.Prompt, &systemPrompt, &t.Type, &t.Status,
			&t.CreatedAt, &t.UpdatedAt, &leasedUntil, &workerID, &result, &taskErr,
		); err != nil {
			return nil, err
		}

		if systemPrompt.Valid {
			t.SystemPrompt = &systemPrompt.String
		}
		if leasedUntil.Valid {
			v := leasedUntil.Float64
			t.LeasedUntil = &v
		}
		if workerID.Valid {
			t.WorkerID = &workerID.String
		}
		if result.Valid {
			t.Result = &result.String
		}
		if taskErr.Valid {
			t.Error = &taskErr.String
		}

		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
