package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runPython executes code via `python3 -c <code>`. Task type "python"
// bypasses the configured Provider entirely, executing arbitrary code in
// workdir.
func runPython(ctx context.Context, code, workdir string) (string, error) {
	cmd := exec.CommandContext(ctx, "python3", "-c", code)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("python execution failed: %s", msg)
	}

	return stdout.String(), nil
}

// injectContext prepends the contents of <workdir>/.kiro/context.md to
// systemPrompt. A missing file is not an error; a present-but-unreadable
// file is logged by the caller and otherwise ignored.
func injectContext(workdir, systemPrompt string) (string, string, error) {
	if workdir == "" {
		workdir = "."
	}
	contextFile := filepath.Join(workdir, ".kiro", "context.md")

	data, err := os.ReadFile(contextFile)
	if err != nil {
		if os.IsNotExist(err) {
			return systemPrompt, "", nil
		}
		return systemPrompt, "", fmt.Errorf("failed to load context file: %w", err)
	}

	content := string(data)
	if systemPrompt == "" {
		return content, contextFile, nil
	}
	return content + "\n\n" + systemPrompt, contextFile, nil
}
