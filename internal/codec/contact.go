package codec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/scarybot/bogamail/internal/models"
)

// ErrMalformedContact is returned when no address can be extracted from a header.
var ErrMalformedContact = errors.New("malformed contact")

var (
	// Loose fallback for headers net/mail rejects, e.g. unquoted names with specials.
	lenientContact = regexp.MustCompile(`^"?([^<>]*?)"?\s*<?([^<>@\s,]+@[^<>@\s,]+)>?$`)
	addressShape   = regexp.MustCompile(`^[^<>@\s]+@[^<>@\s]+$`)
)

// ParseContact parses `"Name" <addr>`, `Name <addr>` or a bare `addr`.
// RFC 2047 encoded names are decoded. For an address list the first entry
// is used.
func ParseContact(header string) (models.Contact, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return models.Contact{}, fmt.Errorf("%w: empty header", ErrMalformedContact)
	}

	if addr, err := mail.ParseAddress(header); err == nil && addressShape.MatchString(addr.Address) {
		return models.Contact{
			Name:    strings.TrimSpace(addr.Name),
			Address: addr.Address,
		}, nil
	}

	// A list header names its first address.
	if list, err := mail.ParseAddressList(header); err == nil && len(list) > 0 && addressShape.MatchString(list[0].Address) {
		return models.Contact{
			Name:    strings.TrimSpace(list[0].Name),
			Address: list[0].Address,
		}, nil
	}

	match := lenientContact.FindStringSubmatch(header)
	if match == nil {
		return models.Contact{}, fmt.Errorf("%w: %q", ErrMalformedContact, header)
	}

	return models.Contact{
		Name:    strings.TrimSpace(match[1]),
		Address: strings.TrimSpace(match[2]),
	}, nil
}
