package models

// ReceivedEvent is published to the client queue once an inbound message is stored.
type ReceivedEvent struct {
	Email string `json:"email"`
}

// OutboundEvent is published to the send queue by the orchestrator.
// SendAfter is epoch seconds; 0 means send immediately.
type OutboundEvent struct {
	Email     string `json:"email"`
	SendAfter int64  `json:"send_after"`
}

// SNSEnvelope is the body of an SQS record delivered from an SNS subscription.
type SNSEnvelope struct {
	Type      string `json:"Type,omitempty"`
	MessageID string `json:"MessageId,omitempty"`
	Message   string `json:"Message"`
}

// SESNotification is the SES receipt notification carried inside SNSEnvelope.Message.
type SESNotification struct {
	NotificationType string  `json:"notificationType,omitempty"`
	Content          string  `json:"content"`
	Receipt          *struct {
		Action struct {
			Type     string `json:"type"`
			Encoding string `json:"encoding"`
		} `json:"action"`
	} `json:"receipt,omitempty"`
}

// Encoding returns the content encoding declared by the SES action, if any.
func (n *SESNotification) Encoding() string {
	if n.Receipt == nil {
		return ""
	}
	return n.Receipt.Action.Encoding
}

type PipelineEventType string

const (
	EventMessageReceived PipelineEventType = "message.received"
	EventReplyQueued     PipelineEventType = "reply.queued"
	EventReplySuppressed PipelineEventType = "reply.suppressed"
	EventMessageSent     PipelineEventType = "message.sent"
	EventMessageDeferred PipelineEventType = "message.deferred"
	EventSendFailed      PipelineEventType = "message.send_failed"
)

// PipelineEvent is what the ops websocket feed pushes to subscribers.
type PipelineEvent struct {
	Type      PipelineEventType `json:"type"`
	MessageID string            `json:"message_id"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	At        int64             `json:"at"`
}
