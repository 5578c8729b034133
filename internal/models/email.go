package models

import (
	"mime"
	"strings"
	"unicode"
)

// NoUsableText is the body stored when neither a text nor an HTML part yields content.
const NoUsableText = "[no usable text content]"

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Contact is a display name and address pair taken from a From or To header.
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String renders the contact as a header value: `Name <addr>`, or the bare
// address when there is no name. Names with specials are quoted and
// non-ASCII names are RFC 2047 encoded.
func (c Contact) String() string {
	if c.Name == "" {
		return c.Address
	}
	return formatDisplayName(c.Name) + " <" + c.Address + ">"
}

func formatDisplayName(name string) string {
	for _, r := range name {
		if r > unicode.MaxASCII {
			return mime.QEncoding.Encode("utf-8", name)
		}
	}
	if !strings.ContainsAny(name, `()<>[]:;@\,."`) {
		return name
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return `"` + escaped + `"`
}

// LocalPart returns the part of the address before the @.
func (c Contact) LocalPart() string {
	local, _, _ := strings.Cut(c.Address, "@")
	return local
}

// Domain returns the part of the address after the @.
func (c Contact) Domain() string {
	_, domain, _ := strings.Cut(c.Address, "@")
	return domain
}

// Message is a single email in a conversation. Thread ordering uses CreatedAt,
// scheduled delivery uses SendAfter.
type Message struct {
	ID            string    `json:"id"`
	Sender        Contact   `json:"sender"`
	Recipient     Contact   `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	References    []string  `json:"references"`
	Direction     Direction `json:"direction"`
	Sent          bool      `json:"sent"`
	CreatedAt     int64     `json:"ts"`
	SendAfter     int64     `json:"send_after"`
	Raw           string    `json:"-"`
	ReceiptHandle string    `json:"-"`
}

// IsDue reports whether an unsent message may be transmitted at now.
func (m *Message) IsDue(now int64) bool {
	return !m.Sent && m.SendAfter <= now
}
