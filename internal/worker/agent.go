// Package worker implements the Worker Agent Loop: poll/lease/execute/ack
// against a Hub.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taituo/kirosu/internal/provider"
)

// Config configures an Agent: which Hub to poll, which model/provider to
// run tasks against, and the poll/lease cadence.
type Config struct {
	HubAddr      string
	AuthToken    string
	Model        string
	Workdir      string
	ProviderName string
	PollInterval time.Duration
	LeaseSeconds int
}

// Agent polls a Hub for leased tasks, executes them via a Provider (or the
// python executor for type=python tasks), and acks the result.
type Agent struct {
	cfg      Config
	client   *HubClient
	provider provider.Provider
	workerID string
	log      zerolog.Logger
}

// New builds an Agent with a freshly generated worker id.
func New(cfg Config, log zerolog.Logger) (*Agent, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 300
	}

	workerID, err := newWorkerID()
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:      cfg,
		client:   NewHubClient(cfg.HubAddr, cfg.AuthToken),
		provider: provider.Select(cfg.ProviderName, cfg.Model),
		workerID: workerID,
		log:      log.With().Str("worker_id", workerID).Logger(),
	}, nil
}

// WorkerID returns the generated worker id, mainly for tests and logging
// at the call site.
func (a *Agent) WorkerID() string {
	return a.workerID
}

// Run ticks until ctx is cancelled, sleeping cfg.PollInterval between ticks.
func (a *Agent) Run(ctx context.Context) {
	a.log.Info().Str("hub_addr", a.cfg.HubAddr).Msg("agent started")
	defer a.client.Close()

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("agent stopping")
			return
		default:
		}

		if err := a.tick(ctx); err != nil {
			a.log.Error().Err(err).Msg("error in agent loop")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.PollInterval):
		}
	}
}

type leasedTask struct {
	TaskID       int64   `json:"task_id"`
	Prompt       string  `json:"prompt"`
	SystemPrompt *string `json:"system_prompt"`
	Type         string  `json:"type"`
}

type leaseResult struct {
	Tasks []leasedTask `json:"tasks"`
}

// tick performs one lease/execute/ack cycle.
func (a *Agent) tick(ctx context.Context) error {
	raw, err := a.client.Call("lease", map[string]any{
		"worker_id":     a.workerID,
		"max_tasks":     1,
		"lease_seconds": a.cfg.LeaseSeconds,
	})
	if err != nil {
		return fmt.Errorf("lease failed: %w", err)
	}

	var result leaseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("malformed lease response: %w", err)
	}
	if len(result.Tasks) == 0 {
		return nil
	}

	task := result.Tasks[0]
	taskType := task.Type
	if taskType == "" {
		taskType = "chat"
	}

	systemPrompt := ""
	if task.SystemPrompt != nil {
		systemPrompt = *task.SystemPrompt
	}
	merged, contextFile, err := injectContext(a.cfg.Workdir, systemPrompt)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load context file")
	} else {
		systemPrompt = merged
		if contextFile != "" {
			a.log.Info().Str("context_file", contextFile).Msg("injected context")
		}
	}

	a.log.Info().Int64("task_id", task.TaskID).Str("type", taskType).Msg("leased task")

	output, execErr := a.execute(ctx, taskType, task.Prompt, systemPrompt)
	if execErr != nil {
		if _, ackErr := a.client.Call("ack", map[string]any{
			"task_id": task.TaskID,
			"status":  "failed",
			"error":   execErr.Error(),
		}); ackErr != nil {
			return fmt.Errorf("failed to ack failed task %d: %w", task.TaskID, ackErr)
		}
		a.log.Error().Int64("task_id", task.TaskID).Err(execErr).Msg("task failed")
		return nil
	}

	if _, ackErr := a.client.Call("ack", map[string]any{
		"task_id": task.TaskID,
		"status":  "done",
		"result":  output,
	}); ackErr != nil {
		return fmt.Errorf("failed to ack done task %d: %w", task.TaskID, ackErr)
	}
	a.log.Info().Int64("task_id", task.TaskID).Msg("task done")
	return nil
}

func (a *Agent) execute(ctx context.Context, taskType, prompt, systemPrompt string) (string, error) {
	if taskType == "python" {
		a.log.Warn().Msg("executing python task")
		return runPython(ctx, prompt, a.cfg.Workdir)
	}
	return a.provider.Run(ctx, prompt, systemPrompt, a.cfg.Workdir)
}
