package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "production")
	t.Cleanup(func() { Configure(os.Stdout, "production") })

	ctx := WithRecordID(context.Background(), "rec-1")
	LoggerFromContext(ctx).Info("handled", "message_id", "m1@x.com")
	LoggerFromContext(context.Background()).Debug("hidden in production")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "handled", entry["msg"])
	assert.Equal(t, "rec-1", entry["record_id"])
	assert.Equal(t, "m1@x.com", entry["message_id"])
}

func TestConfigureEnablesDebugOutsideProduction(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "development")
	t.Cleanup(func() { Configure(os.Stdout, "production") })

	WithFields("queue", "send").Debug("polling")
	assert.Contains(t, buf.String(), `"queue":"send"`)
}
