// Package reply generates the content of answers to incoming messages.
package reply

import (
	"context"
	"strings"
	"time"

	"github.com/scarybot/bogamail/internal/models"
)

// Reply is generated content. Delay, when positive, defers sending.
type Reply struct {
	Subject string
	Body    string
	Delay   time.Duration
}

// Strategy decides how to answer incoming. thread is the assembled
// conversation, most recent first. A nil Reply with a nil error means no
// answer should be sent.
type Strategy interface {
	Generate(ctx context.Context, thread []*models.Message, incoming *models.Message) (*Reply, error)
}

// Subject returns the subject of an answer to a message with subject s.
func Subject(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	if trimmed == "" {
		return "RE:"
	}
	return "RE: " + trimmed
}
