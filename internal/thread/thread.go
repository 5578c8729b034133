// Package thread derives conversations from stored messages. Threads are
// never persisted; they are rebuilt from the store on every request.
package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
)

// Assemble returns every message exchanged between a and b in either
// direction, most recent first. Ties on CreatedAt are broken by id so the
// order is total.
func Assemble(ctx context.Context, s store.Store, a, b string) ([]*models.Message, error) {
	fromA, err := s.QueryBySender(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages from %s: %w", a, err)
	}

	toA, err := s.QueryByRecipient(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages to %s: %w", a, err)
	}

	return Merge(fromA, toA), nil
}

// Merge unions message lists, drops duplicate (sender, id) pairs and sorts
// the result most recent first.
func Merge(lists ...[]*models.Message) []*models.Message {
	type key struct{ sender, id string }

	seen := make(map[key]bool)
	merged := make([]*models.Message, 0)
	for _, list := range lists {
		for _, msg := range list {
			k := key{msg.Sender.Address, msg.ID}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, msg)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID > merged[j].ID
	})

	return merged
}

// Ancestors narrows an assembled thread to the reply chain of msg: the
// messages whose ids appear in msg.References. Thread order is kept.
func Ancestors(messages []*models.Message, msg *models.Message) []*models.Message {
	refs := make(map[string]bool, len(msg.References))
	for _, ref := range msg.References {
		refs[ref] = true
	}

	chain := make([]*models.Message, 0, len(msg.References))
	for _, m := range messages {
		if refs[m.ID] {
			chain = append(chain, m)
		}
	}
	return chain
}

// Transcript renders up to limit of the most recent messages oldest first,
// one block per message. A limit of zero or less renders everything.
func Transcript(messages []*models.Message, limit int) string {
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}

	var b strings.Builder
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s\n", m.Sender.String(), m.Subject, m.Body)
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
	}
	return b.String()
}
