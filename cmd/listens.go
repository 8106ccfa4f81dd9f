package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/urfave/cli/v3"
)

// ListensList prints a user's most recent listens, newest first.
func (r *Runner) ListensList(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	listens, err := repositories.NewListenRepository(db).ListByUser(ctx, uid, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") || cmd.Bool("pretty") {
		return r.writeJSON(listens, cmd.Bool("pretty"))
	}

	if len(listens) == 0 {
		r.writePlain("No listens stored for %s\n", uid)
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Recent listens for %s (%d)", uid, len(listens)))
	for _, l := range listens {
		r.writePlain("%s  %s - %s\n", l.PlayedAt.Format(time.DateTime), strings.Join(l.ArtistNames, ", "), l.TrackName)
	}
	return nil
}

// ListensPurge deletes every listen whose expiry has passed.
func (r *Runner) ListensPurge(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	n, err := r.purge(ctx, repositories.NewListenRepository(db))
	if err != nil {
		return err
	}

	r.writePlain("✓ Purged %d expired listens\n", n)
	return nil
}

func (r *Runner) purge(ctx context.Context, listens *repositories.ListenRepository) (int64, error) {
	n, err := listens.PurgeExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	metrics.ListensPurged.Add(float64(n))
	if n > 0 {
		r.logger.Info("purged expired listens", "count", n)
	}
	return n, nil
}
