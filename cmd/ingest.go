package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/server"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/desertthunder/replay/internal/tasks"
	"github.com/urfave/cli/v3"
)

// IngestRun runs one batch over every user and prints the run stats.
func (r *Runner) IngestRun(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	p, err := r.newPipeline(db)
	if err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			if asJSON {
				continue
			}
			if update.Total > 0 {
				r.writePlain("→ [%d/%d] %s\n", update.Step, update.Total, update.Message)
			} else {
				r.writePlain("→ %s\n", update.Message)
			}
		}
	}()

	stats, err := p.engine.Run(ctx, progress)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	if asJSON {
		return r.writeJSON(stats, false)
	}
	r.printStats(stats)
	return nil
}

// IngestUser runs the pipeline for a single user.
func (r *Runner) IngestUser(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	p, err := r.newPipeline(db)
	if err != nil {
		return err
	}

	result, err := p.engine.RunUser(ctx, uid)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, false)
	}

	if !result.Linked {
		r.writePlain("⚠ %s has not linked Spotify; nothing ingested\n", uid)
		return nil
	}
	r.writePlain("✓ Ingested %d listens for %s\n", result.Processed, uid)
	return nil
}

// IngestReset deletes a user's cursor.
func (r *Runner) IngestReset(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	removed, err := repositories.NewCursorRepository(db).Reset(ctx, uid)
	if err != nil {
		return err
	}

	if !removed {
		r.writePlain("No cursor stored for %s\n", uid)
		return nil
	}
	r.writePlain("✓ Reset cursor for %s\n", uid)
	return nil
}

// IngestToken prints a bearer token accepted by POST /ingest for uid.
func (r *Runner) IngestToken(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	token, err := server.IssueToken(r.config.Server.JWTSecret, uid, cmd.Duration("ttl"), r.now())
	if err != nil {
		return fmt.Errorf("%w: set jwt_secret or JWT_SECRET", err)
	}

	r.writePlain("%s\n", token)
	return nil
}

func (r *Runner) printStats(stats *models.IngestStats) {
	r.writePlainln("✓ Run %s finished in %v", stats.RunID, stats.Duration)
	r.writePlain("  Users processed: %d\n", stats.ProcessedUsers)
	r.writePlain("  Listens written: %d\n", stats.ProcessedListens)
	if stats.Unlinked > 0 {
		r.writePlain("  Unlinked:        %d\n", stats.Unlinked)
	}
	if stats.Errors > 0 {
		r.writePlain("  Errors:          %d\n", stats.Errors)
	}
}
