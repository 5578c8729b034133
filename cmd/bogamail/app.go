package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scarybot/bogamail/internal/archive"
	"github.com/scarybot/bogamail/internal/config"
	"github.com/scarybot/bogamail/internal/crypto"
	"github.com/scarybot/bogamail/internal/db"
	"github.com/scarybot/bogamail/internal/dispatch"
	"github.com/scarybot/bogamail/internal/dynamo"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/intake"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/scarybot/bogamail/internal/orchestrator"
	"github.com/scarybot/bogamail/internal/queue"
	"github.com/scarybot/bogamail/internal/reply"
	"github.com/scarybot/bogamail/internal/secrets"
	"github.com/scarybot/bogamail/internal/smtp"
	"github.com/scarybot/bogamail/internal/store"
	ws "github.com/scarybot/bogamail/internal/websocket"
)

const (
	nameCacheTTL  = 10 * time.Minute
	resolverTTL   = time.Hour
	eventRingSize = 200
	maxWSClients  = 10
)

// app holds the backends selected by configuration.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	session  *session.Session
	ssm      *secrets.SSM
	resolver *config.Resolver
	store    store.Store
	secrets  secrets.Store
	queues   map[string]queue.Queue
	ring     *events.Ring
	hub      *ws.Hub
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	observability.Configure(os.Stdout, cfg.Environment)

	a := &app{
		cfg:    cfg,
		queues: make(map[string]queue.Queue),
		ring:   events.NewRing(eventRingSize),
		hub:    ws.NewHub(maxWSClients),
	}

	if cfg.NeedsAWS() {
		awsCfg := &aws.Config{Region: aws.String(cfg.AWSRegion)}
		if cfg.AWSEndpoint != "" {
			awsCfg.Endpoint = aws.String(cfg.AWSEndpoint)
		}
		if a.session, err = session.NewSession(awsCfg); err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		a.ssm = secrets.NewSSM(ssm.New(a.session), nameCacheTTL)
		a.resolver = config.NewResolver(a.ssm, resolverTTL)
	} else {
		a.resolver = config.NewResolver(nil, resolverTTL)
	}

	if cfg.NeedsPostgres() {
		if a.pool, err = db.NewConnection(ctx, cfg); err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, a.pool); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSecrets(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) Close() {
	db.CloseConnection(a.pool)
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StorePostgres:
		a.store = db.NewMessageStore(a.pool)
	case config.StoreDynamoDB:
		table, err := a.resolver.TableName(ctx)
		if err != nil {
			return err
		}
		a.store = dynamo.New(dynamodb.New(a.session), table)
	default:
		a.store = store.NewMemory()
	}
	return nil
}

func (a *app) openSecrets() error {
	switch a.cfg.Secrets {
	case config.SecretsPostgres:
		encryptor, err := crypto.NewEncryptor(a.cfg.EncryptionKeyBase64)
		if err != nil {
			return fmt.Errorf("failed to create encryptor: %w", err)
		}
		a.secrets = secrets.NewPostgres(a.pool, encryptor)
	case config.SecretsKeyring:
		ring, err := secrets.OpenKeyring(a.cfg.KeyringService)
		if err != nil {
			return err
		}
		a.secrets = ring
	default:
		a.secrets = a.ssm
	}
	return nil
}

// queue returns the named queue. In-memory queues are shared by every stage
// of the process.
func (a *app) queue(ctx context.Context, name string) (queue.Queue, error) {
	if q, ok := a.queues[name]; ok {
		return q, nil
	}

	var q queue.Queue
	if a.cfg.Queues == config.QueuesMemory {
		q = queue.NewMemory()
	} else {
		url, err := a.resolver.QueueURL(ctx, name)
		if err != nil {
			return nil, err
		}
		q = queue.NewSQS(sqs.New(a.session), url)
	}
	a.queues[name] = q
	return q, nil
}

// publisher feeds both the recent-events ring and live websocket clients.
func (a *app) publisher() events.Publisher {
	return events.Fanout{a.ring, a.hub}
}

func (a *app) profiles() (*db.ProfileStore, error) {
	if a.pool == nil {
		return nil, fmt.Errorf("correspondent profiles are kept in Postgres; set BOGAMAIL_STORE or BOGAMAIL_SECRETS to postgres")
	}
	return db.NewProfileStore(a.pool), nil
}

func (a *app) strategy() (reply.Strategy, error) {
	if a.cfg.ReplyStrategy != config.StrategyLLM {
		return reply.LoadTemplates(a.cfg.TemplatesPath)
	}

	opts := []reply.LanguageModelOption{reply.WithNames(a.secrets)}
	if a.cfg.PersonaPath != "" {
		persona, err := os.ReadFile(a.cfg.PersonaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read persona: %w", err)
		}
		opts = append(opts, reply.WithPersona(string(persona)))
	}
	if a.pool != nil {
		opts = append(opts, reply.WithProfiles(db.NewProfileStore(a.pool)))
	}
	return reply.NewAnthropic(a.cfg.AnthropicAPIKey, a.cfg.Model, opts...), nil
}

// pipeline builds the intake pipeline. withReceive is false for the IMAP
// source, which acknowledges by flagging messages instead.
func (a *app) pipeline(ctx context.Context, withReceive bool) (*intake.Pipeline, error) {
	var receive queue.Queue
	if withReceive {
		var err error
		if receive, err = a.queue(ctx, config.QueueReceive); err != nil {
			return nil, err
		}
	}
	client, err := a.queue(ctx, config.QueueClient)
	if err != nil {
		return nil, err
	}

	opts := []intake.Option{
		intake.WithEvents(a.publisher()),
		intake.WithCallTimeout(a.cfg.CallTimeout),
	}
	if a.cfg.ArchiveBucket != "" {
		opts = append(opts, intake.WithArchiver(archive.NewS3(s3.New(a.session), a.cfg.ArchiveBucket, a.cfg.ArchiveZstd)))
	}
	return intake.New(a.store, receive, client, opts...), nil
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	client, err := a.queue(ctx, config.QueueClient)
	if err != nil {
		return nil, err
	}
	send, err := a.queue(ctx, config.QueueSend)
	if err != nil {
		return nil, err
	}
	strategy, err := a.strategy()
	if err != nil {
		return nil, err
	}

	return orchestrator.New(a.store, client, send, strategy, a.secrets,
		orchestrator.WithEvents(a.publisher()),
		orchestrator.WithDefaultDelay(a.cfg.ReplyDelay),
		orchestrator.WithPollDelay(a.cfg.PollDelay),
		orchestrator.WithCallTimeout(a.cfg.CallTimeout),
	), nil
}

func (a *app) dispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	send, err := a.queue(ctx, config.QueueSend)
	if err != nil {
		return nil, err
	}

	return dispatch.New(a.store, send, a.secrets, smtp.New(a.cfg.SMTPAddr, a.cfg.SMTPStartTLS),
		dispatch.WithEvents(a.publisher()),
		dispatch.WithCallTimeout(a.cfg.CallTimeout),
		dispatch.WithPollDelay(a.cfg.PollDelay),
	), nil
}
