package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/scarybot/bogamail/internal/models"
)

// ErrMalformedMessage is returned when a document cannot be turned into a Message.
// Such input is never retried.
var ErrMalformedMessage = errors.New("malformed message")

// createdHeader carries CreatedAt of outbound messages across the send
// queue so a deferred reply keeps its original position in the thread.
const createdHeader = "X-Bogamail-Created"

// Decode parses a raw MIME document into a Message. Inbound messages are
// marked sent, since there is nothing to deliver.
func Decode(raw string, direction models.Direction, receiptHandle string) (*models.Message, error) {
	return DecodeAt(raw, direction, receiptHandle, time.Now())
}

// DecodeAt is Decode with an explicit clock.
func DecodeAt(raw string, direction models.Direction, receiptHandle string, now time.Time) (*models.Message, error) {
	envelope, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse MIME: %v", ErrMalformedMessage, err)
	}

	// Address headers are parsed raw so encoded names are decoded once, by ParseContact.
	sender, err := ParseContact(envelope.Root.Header.Get("From"))
	if err != nil {
		return nil, fmt.Errorf("%w: From: %w", ErrMalformedMessage, err)
	}

	recipient, err := ParseContact(envelope.Root.Header.Get("To"))
	if err != nil {
		return nil, fmt.Errorf("%w: To: %w", ErrMalformedMessage, err)
	}

	msg := &models.Message{
		Sender:        sender,
		Recipient:     recipient,
		Subject:       envelope.GetHeader("Subject"),
		Body:          plainTextBody(envelope),
		References:    ParseReferences(envelope.Root.Header.Get("References")),
		Direction:     direction,
		Sent:          direction == models.DirectionIn,
		CreatedAt:     now.Unix(),
		Raw:           raw,
		ReceiptHandle: receiptHandle,
	}

	// Only our own outbound documents carry a trusted creation time; on
	// inbound mail the header is whatever the sender wrote.
	if created := envelope.Root.Header.Get(createdHeader); created != "" && direction == models.DirectionOut {
		if ts, err := strconv.ParseInt(strings.TrimSpace(created), 10, 64); err == nil && ts > 0 {
			msg.CreatedAt = ts
		}
	}

	if id := ExtractID(envelope.Root.Header.Get("Message-Id")); id != "" {
		msg.ID = id
		return msg, nil
	}

	// The id is derived from the document so a redelivery maps to the same
	// record, and written into it so later decodes of Raw keep it.
	msg.ID = DeriveMessageID(raw, sender.Domain())
	if msg.Raw, err = Encode(msg); err != nil {
		return nil, fmt.Errorf("failed to encode message with generated id: %w", err)
	}
	return msg, nil
}

// plainTextBody prefers the text/plain part. enmime fills Text from the
// HTML part when there is no plain part. Line endings become LF and trailing
// newlines are dropped, so bodies are stored in that normal form and survive
// Encode/Decode unchanged.
func plainTextBody(envelope *enmime.Envelope) string {
	text := strings.ReplaceAll(envelope.Text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return models.NoUsableText
	}
	return text
}
