package main

import (
	"context"
	"time"

	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/server"
	"github.com/desertthunder/replay/internal/services"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP surface and, unless --no-schedule is set, a batch every configured period.
//
// The first scheduled batch starts one period after startup.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	p, err := r.newPipeline(db)
	if err != nil {
		return err
	}

	credentials := repositories.NewCredentialRepository(db)
	token := server.NewTokenHandler(nil, credentials, r.logger)
	if auth, err := services.NewSpotifyAuth(r.config.Credentials.Spotify, r.tokenURL, r.httpClient); err != nil {
		r.logger.Warn("token broker disabled", "error", err)
	} else {
		token = server.NewTokenHandler(auth, credentials, r.logger)
	}

	if r.config.Server.JWTSecret == "" {
		r.logger.Warn("jwt_secret is empty; POST /ingest rejects every request")
	}

	router := server.NewAPIRouter(server.APIOptions{
		Token:  token,
		Ingest: server.NewIngestHandler(p.engine, r.config.Server.JWTSecret, r.logger),
		Logger: r.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduled := make(chan struct{})
	if cmd.Bool("no-schedule") {
		close(scheduled)
	} else {
		go func() {
			defer close(scheduled)
			r.schedule(ctx, p, repositories.NewListenRepository(db), r.config.Ingest.Schedule())
		}()
	}

	err = server.Serve(ctx, r.config.Server.Addr(), router, r.logger)
	cancel()
	<-scheduled
	return err
}

// schedule runs a batch and an expiry purge every period until ctx is cancelled.
//
// A failed batch is logged and the next tick runs as usual.
func (r *Runner) schedule(ctx context.Context, p *pipeline, listens *repositories.ListenRepository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	r.logger.Info("scheduled ingestion", "every", every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, err := p.engine.Run(ctx, nil)
		if err != nil {
			r.logger.Error("scheduled run failed", "error", err)
		} else {
			r.logger.Info("scheduled run finished", "run", stats.RunID, "users", stats.ProcessedUsers, "errors", stats.Errors)
		}

		if _, err := r.purge(ctx, listens); err != nil {
			r.logger.Error("purge failed", "error", err)
		}
	}
}
