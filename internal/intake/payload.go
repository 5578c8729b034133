package intake

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/scarybot/bogamail/internal/models"
)

// ErrMalformedRecord is returned for notification records that will never
// yield a message, however often they are redelivered.
var ErrMalformedRecord = errors.New("malformed notification record")

// Unwrap extracts the SES content and its declared encoding from a receive
// queue record body (an SNS envelope around an SES notification).
func Unwrap(body string) (content, encoding string, err error) {
	var envelope models.SNSEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return "", "", fmt.Errorf("%w: sns envelope: %v", ErrMalformedRecord, err)
	}
	if envelope.Message == "" {
		return "", "", fmt.Errorf("%w: sns envelope has no message", ErrMalformedRecord)
	}

	var notification models.SESNotification
	if err := json.Unmarshal([]byte(envelope.Message), &notification); err != nil {
		return "", "", fmt.Errorf("%w: ses notification: %v", ErrMalformedRecord, err)
	}
	if notification.Content == "" {
		return "", "", fmt.Errorf("%w: ses notification has no content", ErrMalformedRecord)
	}

	return notification.Content, notification.Encoding(), nil
}

// DecodePayload returns the raw MIME document carried by content. A declared
// BASE64 encoding is decoded strictly. Without one, content is treated as
// base64 only when it decodes and re-encodes to the same text; anything else
// is taken as raw MIME.
func DecodePayload(content, encoding string) (string, error) {
	compact := stripSpace(content)

	if strings.EqualFold(encoding, "BASE64") {
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return "", fmt.Errorf("%w: content declared base64: %v", ErrMalformedRecord, err)
		}
		return string(decoded), nil
	}

	if compact != "" {
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err == nil && base64.StdEncoding.EncodeToString(decoded) == compact {
			return string(decoded), nil
		}
	}

	return content, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
