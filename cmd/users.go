package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/urfave/cli/v3"
)

// userRow is one line of `users list`.
type userRow struct {
	*models.User
	Cursor *models.IngestCursor `json:"cursor,omitempty"`
}

// UsersAdd registers a user for ingestion.
func (r *Runner) UsersAdd(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	user := &models.User{ID: uid, DisplayName: cmd.String("name"), CreatedAt: r.now().UTC()}
	if err := repositories.NewUserRepository(db).Create(ctx, user); err != nil {
		return err
	}

	r.writePlain("✓ Added user %s\n", uid)
	return nil
}

// UsersList prints every user with its link status and the state of its cursor.
func (r *Runner) UsersList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	users, err := repositories.NewUserRepository(db).List(ctx)
	if err != nil {
		return err
	}

	cursors := repositories.NewCursorRepository(db)
	rows := make([]userRow, 0, len(users))
	for _, user := range users {
		cursor, err := cursors.GetCursor(ctx, user.ID)
		if err != nil {
			return err
		}
		rows = append(rows, userRow{User: user, Cursor: cursor})
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, false)
	}

	if len(rows) == 0 {
		r.writePlain("No users. Add one with `replay users add <uid>`.\n")
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Users (%d)", len(rows)))
	for _, row := range rows {
		linked := "✗ unlinked"
		if row.Linked {
			linked = "✓ linked"
		}

		name := row.ID
		if row.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", row.ID, row.DisplayName)
		}

		r.writePlain("%-32s %-12s %s\n", name, linked, describeCursor(row.Cursor))
	}
	return nil
}

// UsersRemove deletes a user and everything stored for it.
func (r *Runner) UsersRemove(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	if err := repositories.NewUserRepository(db).Delete(ctx, uid); err != nil {
		return err
	}

	r.writePlain("✓ Removed user %s\n", uid)
	return nil
}

func describeCursor(c *models.IngestCursor) string {
	if c == nil || c.LastRunAt == nil {
		return "never run"
	}

	desc := "last run " + c.LastRunAt.Format(time.RFC3339)
	if c.LastFetchedAt != nil {
		desc += ", watermark " + shared.FromEpochMillis(*c.LastFetchedAt).Format(time.RFC3339)
	}
	if c.LastError != nil {
		desc += ", error: " + *c.LastError
	}
	return desc
}
