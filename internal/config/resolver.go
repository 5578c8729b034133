package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ParameterSource reads a named parameter, e.g. from SSM Parameter Store.
type ParameterSource interface {
	Parameter(ctx context.Context, name string) (string, error)
}

const (
	QueueReceive = "receive"
	QueueClient  = "client"
	QueueSend    = "send"
)

// Resolver finds queue URLs and the table name. Environment variables win;
// otherwise the value is read from the parameter source and cached.
type Resolver struct {
	source ParameterSource
	cache  *expirable.LRU[string, string]
}

func NewResolver(source ParameterSource, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		cache:  expirable.NewLRU[string, string](64, nil, ttl),
	}
}

// QueueURL resolves a queue by name: env `<NAME>_QUEUE_URL`, else the
// parameter `/bogamail/queue_url/<name>`.
func (r *Resolver) QueueURL(ctx context.Context, name string) (string, error) {
	envKey := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_QUEUE_URL"
	return r.resolve(ctx, envKey, "/bogamail/queue_url/"+name)
}

// TableName resolves the mail table: env `MAIL_TABLE`, else `/bogamail/mail_table`.
func (r *Resolver) TableName(ctx context.Context) (string, error) {
	return r.resolve(ctx, "MAIL_TABLE", "/bogamail/mail_table")
}

func (r *Resolver) resolve(ctx context.Context, envKey, parameter string) (string, error) {
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}

	if value, ok := r.cache.Get(parameter); ok {
		return value, nil
	}

	if r.source == nil {
		return "", errors.New("no parameter source configured and " + envKey + " is not set")
	}

	value, err := r.source.Parameter(ctx, parameter)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", parameter, err)
	}

	r.cache.Add(parameter, value)
	return value, nil
}
