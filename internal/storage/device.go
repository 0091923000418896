// Package storage handles the small bits of local state livefeed persists
// between runs.
package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GetOrCreateDeviceID loads the stable device id from path, generating and
// persisting a new one on first run.
//
// The id identifies this installation to the server (presence, per-device
// read fan-out); it carries no secrets.
func GetOrCreateDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	return id, nil
}
