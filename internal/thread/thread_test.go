package thread

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(id, from, to string, ts int64) *models.Message {
	return &models.Message{
		ID:        id,
		Sender:    models.Contact{Address: from},
		Recipient: models.Contact{Address: to},
		Subject:   "Hi",
		Body:      "body of " + id,
		CreatedAt: ts,
	}
}

func ids(messages []*models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	for _, m := range []*models.Message{
		message("1", "a@x.com", "b@y.com", 100),
		message("2", "b@y.com", "a@x.com", 200),
		message("3", "a@x.com", "b@y.com", 300),
		message("4", "a@x.com", "c@z.com", 400),
		message("5", "c@z.com", "b@y.com", 500),
	} {
		require.NoError(t, s.Put(ctx, m))
	}

	t.Run("both directions, most recent first", func(t *testing.T) {
		thread, err := Assemble(ctx, s, "a@x.com", "b@y.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "2", "1"}, ids(thread))
	})

	t.Run("argument order does not matter", func(t *testing.T) {
		thread, err := Assemble(ctx, s, "b@y.com", "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "2", "1"}, ids(thread))
	})

	t.Run("no messages gives an empty thread", func(t *testing.T) {
		thread, err := Assemble(ctx, s, "nobody@x.com", "b@y.com")
		require.NoError(t, err)
		assert.NotNil(t, thread)
		assert.Empty(t, thread)
	})
}

type failingStore struct {
	store.Store
}

func (failingStore) QueryBySender(context.Context, string, string) ([]*models.Message, error) {
	return nil, errors.New("table unavailable")
}

func TestAssemblePropagatesStoreErrors(t *testing.T) {
	_, err := Assemble(context.Background(), failingStore{store.NewMemory()}, "a@x.com", "b@y.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table unavailable")
}

func TestMergeOrdering(t *testing.T) {
	t.Run("ties are broken by id", func(t *testing.T) {
		merged := Merge([]*models.Message{
			message("a", "a@x.com", "b@y.com", 100),
			message("c", "a@x.com", "b@y.com", 100),
		}, []*models.Message{
			message("b", "b@y.com", "a@x.com", 100),
		})
		assert.Equal(t, []string{"c", "b", "a"}, ids(merged))
	})

	t.Run("duplicates are dropped", func(t *testing.T) {
		m := message("1", "a@x.com", "b@y.com", 100)
		merged := Merge([]*models.Message{m}, []*models.Message{m})
		assert.Len(t, merged, 1)
	})

	t.Run("order is independent of input order", func(t *testing.T) {
		var base []*models.Message
		for i, ts := range []int64{5, 3, 9, 3, 1, 9, 7} {
			base = append(base, message(string(rune('a'+i)), "a@x.com", "b@y.com", ts))
		}
		expected := ids(Merge(base))

		rng := rand.New(rand.NewSource(1))
		for range 20 {
			shuffled := append([]*models.Message(nil), base...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			assert.Equal(t, expected, ids(Merge(shuffled)))
		}

		merged := Merge(base)
		for i := 1; i < len(merged); i++ {
			assert.GreaterOrEqual(t, merged[i-1].CreatedAt, merged[i].CreatedAt)
		}
	})
}

func TestAncestors(t *testing.T) {
	thread := []*models.Message{
		message("4", "b@y.com", "a@x.com", 400),
		message("3", "a@x.com", "b@y.com", 300),
		message("2", "b@y.com", "a@x.com", 200),
		message("1", "a@x.com", "b@y.com", 100),
	}
	incoming := message("5", "a@x.com", "b@y.com", 500)
	incoming.References = []string{"1", "3"}

	assert.Equal(t, []string{"3", "1"}, ids(Ancestors(thread, incoming)))
	assert.Empty(t, Ancestors(thread, message("6", "a@x.com", "b@y.com", 600)))
}

func TestTranscript(t *testing.T) {
	thread := []*models.Message{
		message("3", "a@x.com", "b@y.com", 300),
		message("2", "b@y.com", "a@x.com", 200),
		message("1", "a@x.com", "b@y.com", 100),
	}

	t.Run("renders oldest first", func(t *testing.T) {
		out := Transcript(thread, 0)
		assert.Less(t, strings.Index(out, "body of 1"), strings.Index(out, "body of 2"))
		assert.Less(t, strings.Index(out, "body of 2"), strings.Index(out, "body of 3"))
	})

	t.Run("keeps only the most recent", func(t *testing.T) {
		out := Transcript(thread, 2)
		assert.NotContains(t, out, "body of 1")
		assert.Contains(t, out, "body of 2")
		assert.Contains(t, out, "body of 3")
	})

	t.Run("empty thread", func(t *testing.T) {
		assert.Equal(t, "", Transcript(nil, 5))
	})
}
