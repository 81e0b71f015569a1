package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider shells out to the kiro-cli binary.
type CLIProvider struct {
	Model string
}

func (p *CLIProvider) Run(ctx context.Context, prompt, systemPrompt, workdir string) (string, error) {
	args := []string{"chat", "--no-interactive", "--wrap", "never"}
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	args = append(args, "--trust-all-tools", composePrompt(prompt, systemPrompt))

	return runCapture(ctx, "kiro-cli", args, workdir)
}

// CodexProvider shells out to the codex binary.
type CodexProvider struct {
	Model string
}

func (p *CodexProvider) Run(ctx context.Context, prompt, systemPrompt, workdir string) (string, error) {
	model := p.Model
	if model == "" {
		model = "gpt-5.1-codex-mini"
	}
	args := []string{"exec", "--dangerously-bypass-approvals-and-sandbox", "--model", model,
		composePrompt(prompt, systemPrompt)}

	return runCapture(ctx, "codex", args, workdir)
}

func composePrompt(prompt, systemPrompt string) string {
	if systemPrompt == "" {
		return prompt
	}
	return fmt.Sprintf("System: %s\n\nUser: %s", systemPrompt, prompt)
}

func runCapture(ctx context.Context, name string, args []string, workdir string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%s failed: %s", name, msg)
	}

	return stdout.String(), nil
}
