// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, then initialize the database and run migrations",
		Action: r.Setup,
	}
}

// usersCommand manages the users eligible for ingestion
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage ingested users",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register a user",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name",
					},
				},
				Action: r.UsersAdd,
			},
			{
				Name:  "list",
				Usage: "List users with link status and last run",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.UsersList,
			},
			{
				Name:      "remove",
				Usage:     "Delete a user with its credentials, cursor, and listens",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Action:    r.UsersRemove,
			},
		},
	}
}

// spotifyCommand handles account linking
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify account linking",
		Commands: []*cli.Command{
			{
				Name:      "link",
				Usage:     "Authorize Spotify for a user and store the refresh token",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.SpotifyLink,
			},
			{
				Name:      "unlink",
				Usage:     "Forget a user's refresh token",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Action:    r.SpotifyUnlink,
			},
		},
	}
}

// ingestCommand runs the pipeline
func ingestCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest recently played history",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one batch across every user",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output run stats as JSON",
					},
				},
				Action: r.IngestRun,
			},
			{
				Name:      "user",
				Usage:     "Ingest a single user now",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the result as JSON",
					},
				},
				Action: r.IngestUser,
			},
			{
				Name:      "reset",
				Usage:     "Delete a user's cursor so the next run starts from now",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Action:    r.IngestReset,
			},
			{
				Name:      "token",
				Usage:     "Print a bearer token for POST /ingest",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: time.Hour,
					},
				},
				Action: r.IngestToken,
			},
		},
	}
}

// listensCommand reads and expires stored listens
func listensCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "listens",
		Usage: "Inspect stored listens",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "Show a user's most recent listens",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uid"}},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of listens to return",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.ListensList,
			},
			{
				Name:   "purge",
				Usage:  "Delete listens past their expiry",
				Action: r.ListensPurge,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the token broker, manual trigger, and metrics, and ingest on a schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-schedule",
				Usage: "Serve HTTP only, without scheduled runs",
			},
		},
		Action: r.Serve,
	}
}
