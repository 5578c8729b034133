package codec

import (
	"time"

	"github.com/scarybot/bogamail/internal/models"
)

// Reply builds the outbound answer to orig. The reply is sent from the
// address orig was sent to, under senderName, and references orig's
// ancestry followed by orig itself. Its id is derived from orig's, so
// answering a redelivered message again yields the same outbound record.
func Reply(orig *models.Message, senderName, subject, body string, now time.Time) *models.Message {
	sender := models.Contact{Name: senderName, Address: orig.Recipient.Address}

	refs := make([]string, 0, len(orig.References)+1)
	for _, ref := range orig.References {
		if ref = CleanReference(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	refs = append(refs, CleanReference(orig.ID))

	return &models.Message{
		ID:         DeriveMessageID("reply\n"+orig.Sender.Address+"\n"+orig.ID, sender.Domain()),
		Sender:     sender,
		Recipient:  orig.Sender,
		Subject:    subject,
		Body:       body,
		References: refs,
		Direction:  models.DirectionOut,
		Sent:       false,
		CreatedAt:  now.Unix(),
	}
}
