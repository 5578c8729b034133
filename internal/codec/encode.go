package codec

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/scarybot/bogamail/internal/models"
)

// Encode renders a Message as a single-part text/plain MIME document.
func Encode(m *models.Message) (string, error) {
	if m == nil {
		return "", fmt.Errorf("message is nil")
	}

	created := m.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}

	var h mail.Header
	h.SetDate(time.Unix(created, 0).UTC())
	h.Set("From", m.Sender.String())
	h.Set("To", m.Recipient.String())
	h.SetSubject(m.Subject)
	if m.ID != "" {
		h.Set("Message-Id", "<"+m.ID+">")
	}
	if refs := formatReferences(m.References); refs != "" {
		h.Set("References", refs)
	}
	h.Set(createdHeader, strconv.FormatInt(created, 10))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return "", fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close message writer: %w", err)
	}

	return buf.String(), nil
}

func formatReferences(refs []string) string {
	wrapped := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = CleanReference(ref); ref != "" {
			wrapped = append(wrapped, "<"+ref+">")
		}
	}
	return strings.Join(wrapped, " ")
}
