package rest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/livefeed/livefeed-go/internal/wire"
)

// Ask sends a question to the chatbot Q&A endpoint and returns the answer.
//
// The session id is a client-generated opaque string persisted next to the
// rest of the local state, so the Q&A backend can thread a conversation
// across runs. It is not part of the realtime core.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}

	var out wire.AssistResponse
	req := wire.AssistRequest{
		SessionID: c.assistSessionID(),
		Question:  question,
	}
	if err := c.postJSON(ctx, "/v1/assist", req, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

func (c *Client) assistSessionID() string {
	c.sessionOnce.Do(func() {
		c.sessionID = loadOrCreateSessionID(c.sessionFile)
	})
	return c.sessionID
}

func loadOrCreateSessionID(path string) string {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	id := uuid.NewString()
	if path != "" {
		_ = os.WriteFile(path, []byte(id+"\n"), 0600)
	}
	return id
}
