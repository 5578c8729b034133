package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scarybot/bogamail/internal/dynamo"
	"github.com/scarybot/bogamail/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMemoryEnv(t *testing.T) {
	t.Helper()

	templates := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(templates, []byte("rules:\n  - name: any\n    body: Tell me more.\n"), 0o600))

	t.Setenv("BOGAMAIL_ENV", "test")
	t.Setenv("BOGAMAIL_STORE", "memory")
	t.Setenv("BOGAMAIL_SECRETS", "ssm")
	t.Setenv("BOGAMAIL_QUEUES", "memory")
	t.Setenv("BOGAMAIL_TEMPLATES", templates)
	t.Setenv("BOGAMAIL_IMAP_ADDR", "")
	t.Setenv("BOGAMAIL_API_TOKEN", "")
	t.Setenv("BOGAMAIL_ARCHIVE_BUCKET", "")
}

func stageNames(stages []stage) []string {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.name)
	}
	return names
}

func TestAllStagesInMemory(t *testing.T) {
	setMemoryEnv(t)
	ctx := context.Background()

	a, err := newApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.Memory{}, a.store)

	stages, err := allStages(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"respond", "send", "schedule"}, stageNames(stages))

	client, err := a.queue(ctx, "client")
	require.NoError(t, err)
	again, err := a.queue(ctx, "client")
	require.NoError(t, err)
	assert.Same(t, client, again)
}

func TestAllStagesWithAPI(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("BOGAMAIL_API_TOKEN", "s3cret")
	t.Setenv("BOGAMAIL_IMAP_ADDR", "127.0.0.1:1143")
	t.Setenv("BOGAMAIL_IMAP_USER", "bob")
	ctx := context.Background()

	a, err := newApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	stages, err := allStages(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"respond", "send", "schedule", "imap", "serve"}, stageNames(stages))
}

func TestDynamoStoreUsesConfiguredTable(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("BOGAMAIL_STORE", "dynamodb")
	t.Setenv("MAIL_TABLE", "mail")

	a, err := newApp(context.Background())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &dynamo.Store{}, a.store)
}

func TestServeRequiresToken(t *testing.T) {
	setMemoryEnv(t)
	a, err := newApp(context.Background())
	require.NoError(t, err)
	defer a.Close()

	_, err = serveStage(context.Background(), a)
	assert.ErrorContains(t, err, "BOGAMAIL_API_TOKEN")
}

func TestRunConcurrentlyStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	err := runConcurrently(context.Background(), []stage{
		{"failing", func(context.Context) error { return boom }},
		{"waiting", func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}},
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	select {
	case <-stopped:
	default:
		t.Fatal("Expected the other stage to be cancelled")
	}
}

func TestServeHTTPShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	server := &http.Server{Addr: addr, Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, server) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestEditYAML(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "editor.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ngrep -q 'bank: Acme' \"$1\" || exit 1\nprintf 'bank: Acme\\nvictims:\\n  - Carol\\n' > \"$1\"\n"), 0o700))

	out := &strings.Builder{}
	data, err := editYAML(map[string]any{"bank": "Acme"}, script, strings.NewReader(""), out)
	require.NoError(t, err)

	assert.Equal(t, "Acme", data["bank"])
	assert.Equal(t, []any{"Carol"}, data["victims"])
}

func TestEditYAMLEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "editor.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n: > \"$1\"\n"), 0o700))

	data, err := editYAML(map[string]any{"bank": "Acme"}, script, strings.NewReader(""), &strings.Builder{})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEditYAMLRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "editor.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'just a string' > \"$1\"\n"), 0o700))

	_, err := editYAML(nil, script, strings.NewReader(""), &strings.Builder{})
	assert.ErrorContains(t, err, "not valid YAML")
}

func TestReadLine(t *testing.T) {
	got, err := readLine(strings.NewReader("hunter2\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	_, err = readLine(strings.NewReader(""))
	assert.Error(t, err)
}
