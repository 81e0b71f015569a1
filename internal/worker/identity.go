package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newWorkerID produces a worker id of the form kiro-<8 hex>.
func newWorkerID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate worker id: %w", err)
	}
	return "kiro-" + hex.EncodeToString(b[:]), nil
}
