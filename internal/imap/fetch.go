package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// searchUnseen returns the UIDs of messages without the \Seen flag.
func searchUnseen(c *client.Client) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}
	return uids, nil
}

// fetchRaw returns the full RFC 822 source of one message without setting
// \Seen on it.
func fetchRaw(c *client.Client, uid uint32) (string, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, messages)
	}()

	var body imap.Literal
	for msg := range messages {
		if b := msg.GetBody(section); b != nil {
			body = b
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if body == nil {
		return "", fmt.Errorf("server did not return message %d", uid)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read message %d: %w", uid, err)
	}
	return string(raw), nil
}

func markSeen(c *client.Client, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", uid, err)
	}
	return nil
}
