// Package provider turns a (prompt, optional system_prompt) pair into a
// result string, synchronously, possibly taking minutes. Any returned
// error marks the task failed.
package provider

import "context"

// Provider runs a single prompt against a backing LLM or executor.
type Provider interface {
	Run(ctx context.Context, prompt string, systemPrompt string, workdir string) (string, error)
}

// Select returns the Provider named by name ("codex" or, by default,
// "kiro").
func Select(name string, model string) Provider {
	switch name {
	case "codex":
		return &CodexProvider{Model: model}
	default:
		return &CLIProvider{Model: model}
	}
}
