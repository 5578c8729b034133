package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/scarybot/bogamail/internal/api"
	"github.com/scarybot/bogamail/internal/auth"
	"github.com/scarybot/bogamail/internal/config"
	"github.com/scarybot/bogamail/internal/dispatch"
	"github.com/scarybot/bogamail/internal/imap"
	"github.com/scarybot/bogamail/internal/intake"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/spf13/cobra"
)

// stage is a long-running loop that returns nil once ctx is cancelled.
type stage struct {
	name string
	run  func(ctx context.Context) error
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Consume inbound mail notifications from the receive queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), receiveStage)
	},
}

var imapCmd = &cobra.Command{
	Use:   "imap",
	Short: "Take in new mail from the configured IMAP mailbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), imapStage)
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Generate replies for received messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), respondStage)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver or schedule outbound replies from the send queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), sendStage)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Periodically send stored replies whose send time has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), scheduleStage)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operations API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), serveStage)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage and the operations API in one process",
	Long: `Run every stage in one process. With BOGAMAIL_QUEUES=memory the stages hand
messages to each other in memory; the receive consumer is skipped and mail
comes in through the IMAP source.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStages(cmd.Context(), allStages)
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd, imapCmd, respondCmd, sendCmd, scheduleCmd, serveCmd, runCmd)
}

// runStages builds the app, then runs the selected stages until ctx is
// cancelled or one of them fails.
func runStages(ctx context.Context, build func(ctx context.Context, a *app) ([]stage, error)) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stages, err := build(ctx, a)
	if err != nil {
		return err
	}
	return runConcurrently(ctx, stages)
}

// runConcurrently cancels every stage as soon as one returns an error.
func runConcurrently(ctx context.Context, stages []stage) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	for i, s := range stages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.run(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.name, err)
				cancel()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func receiveStage(ctx context.Context, a *app) ([]stage, error) {
	p, err := a.pipeline(ctx, true)
	if err != nil {
		return nil, err
	}
	return []stage{{"receive", intake.NewConsumer(p, a.cfg.PollDelay).Run}}, nil
}

func imapStage(ctx context.Context, a *app) ([]stage, error) {
	if a.cfg.IMAPAddr == "" {
		return nil, errors.New("BOGAMAIL_IMAP_ADDR is not set")
	}
	p, err := a.pipeline(ctx, false)
	if err != nil {
		return nil, err
	}
	source := imap.New(imap.Config{
		Addr:     a.cfg.IMAPAddr,
		Username: a.cfg.IMAPUsername,
		Password: a.cfg.IMAPPassword,
		TLS:      a.cfg.IMAPTLS,
	}, p)
	return []stage{{"imap", source.Run}}, nil
}

func respondStage(ctx context.Context, a *app) ([]stage, error) {
	o, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	return []stage{{"respond", func(ctx context.Context) error { return o.Run(ctx) }}}, nil
}

func sendStage(ctx context.Context, a *app) ([]stage, error) {
	d, err := a.dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	return []stage{{"send", func(ctx context.Context) error { return d.Run(ctx) }}}, nil
}

func scheduleStage(ctx context.Context, a *app) ([]stage, error) {
	d, err := a.dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	return []stage{{"schedule", dispatch.NewScheduler(d, a.cfg.ScanInterval).Run}}, nil
}

func serveStage(_ context.Context, a *app) ([]stage, error) {
	if a.cfg.APIToken == "" {
		return nil, errors.New("BOGAMAIL_API_TOKEN is required to serve the API")
	}

	handler := api.NewServer(api.Deps{
		Store:       a.store,
		Auth:        auth.New(a.cfg.APIToken),
		Hub:         a.hub,
		Events:      a.ring,
		CallTimeout: a.cfg.CallTimeout,
	})
	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return []stage{{"serve", func(ctx context.Context) error {
		return serveHTTP(ctx, server)
	}}}, nil
}

// serveHTTP shuts server down gracefully when ctx is cancelled.
func serveHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		observability.Logger().Info("api listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func allStages(ctx context.Context, a *app) ([]stage, error) {
	builders := []func(context.Context, *app) ([]stage, error){respondStage, sendStage, scheduleStage}
	if a.cfg.Queues != config.QueuesMemory {
		builders = append(builders, receiveStage)
	}
	if a.cfg.IMAPAddr != "" {
		builders = append(builders, imapStage)
	}
	if a.cfg.APIToken != "" {
		builders = append(builders, serveStage)
	}

	var stages []stage
	for _, build := range builders {
		s, err := build(ctx, a)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s...)
	}
	return stages, nil
}
