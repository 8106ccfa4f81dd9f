package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/desertthunder/replay/internal/tasks"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config         *shared.Config
	httpClient     *http.Client
	logger         *log.Logger
	output         io.Writer
	db             *sql.DB
	spotifyBaseURL string
	tokenURL       string
	openBrowser    func(string) error
	now            func() time.Time
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB // Opened from Config.Database when nil

	SpotifyBaseURL string             // Web API base; empty means api.spotify.com
	TokenURL       string             // Accounts token endpoint; empty means accounts.spotify.com
	OpenBrowser    func(string) error // Defaults to shared.OpenBrowser
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: services.DefaultTimeout}
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:         opts.Config,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		output:         opts.Output,
		db:             opts.DB,
		spotifyBaseURL: opts.SpotifyBaseURL,
		tokenURL:       opts.TokenURL,
		openBrowser:    opts.OpenBrowser,
		now:            time.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, usersCommand, spotifyCommand, ingestCommand, listensCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "replay",
		Usage:   "Collect Spotify listening history into a local document store",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

// before re-reads the configuration when --config is given and applies the log level.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.IsSet("config") {
		config, err := shared.ReadConfig(cmd.String("config"))
		if err != nil {
			return ctx, err
		}
		r.config = config
	}

	level := shared.ParseLogLevel(r.config.Log.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// database opens and migrates the configured database on first use.
func (r *Runner) database(ctx context.Context) (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(ctx, r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", r.config.Database.Path, err)
	}
	r.db = db
	return db, nil
}

// pipeline wires the ingest engine and the writer it flushes.
type pipeline struct {
	engine *tasks.IngestEngine
	writer *repositories.BufferedWriter
}

// newPipeline validates the configuration and builds the ingest engine over db.
func (r *Runner) newPipeline(db *sql.DB) (*pipeline, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	cfg := r.config.Ingest

	writer := repositories.NewBufferedWriter(db, cfg.WriteBatchSize, r.logger)
	spotify := services.NewSpotifyService(services.SpotifyOptions{
		BaseURL:    r.spotifyBaseURL,
		HTTPClient: r.httpClient,
		RateLimit:  cfg.RateLimit,
		PageSize:   cfg.PageSize(),
		Logger:     r.logger,
	})
	broker := services.NewBrokerClient(cfg.TokenBrokerURL, r.httpClient)

	processor := tasks.NewProcessor(repositories.NewCursorRepository(db), broker, spotify, writer, tasks.ProcessorOptions{
		SafetyWindowMS:  cfg.SafetyWindowMS(),
		Retention:       cfg.Retention(),
		FeaturesEnabled: cfg.FeaturesEnabled,
		Logger:          r.logger,
	})
	engine := tasks.NewIngestEngine(repositories.NewUserRepository(db), processor, writer, tasks.EngineOptions{
		Concurrency: cfg.UserConcurrency,
		Logger:      r.logger,
	})

	return &pipeline{engine: engine, writer: writer}, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
