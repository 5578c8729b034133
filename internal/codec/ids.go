package codec

import (
	"strings"

	"github.com/google/uuid"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("bogamail"))

// DeriveMessageID returns a `<uuid>@<domain>` id, without angle brackets,
// named by seed. The same seed always yields the same id.
func DeriveMessageID(seed, domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return uuid.NewSHA1(idNamespace, []byte(seed)).String() + "@" + domain
}

// ExtractID unwraps a Message-ID header value such as `<abc@example.com>`.
// Values without brackets are returned trimmed.
func ExtractID(header string) string {
	header = strings.TrimSpace(header)
	if strings.HasPrefix(header, "<") {
		if end := strings.Index(header, ">"); end > 0 {
			return strings.TrimSpace(header[1:end])
		}
	}
	return header
}

// CleanReference strips trailing line terminators and angle brackets from a reference id.
func CleanReference(ref string) string {
	return ExtractID(strings.TrimRight(ref, "\r\n"))
}

// ParseReferences splits a References header into ids, oldest first.
func ParseReferences(header string) []string {
	fields := strings.Fields(header)
	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		if ref := CleanReference(field); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
