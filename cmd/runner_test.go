package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/shared"
	tu "github.com/desertthunder/replay/internal/testing"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// testConfig returns defaults pointed at a fresh database file.
func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "replay.db")
	return config
}

func newTestRunner(t *testing.T, config *shared.Config, opts RunnerOpts) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	opts.Config = config
	opts.Output = output
	opts.Logger = shared.NewLogger(io.Discard)
	return NewRunner(opts), output
}

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, r *Runner, output *bytes.Buffer, args ...string) (string, error) {
	t.Helper()
	output.Reset()
	err := r.app().Run(context.Background(), append([]string{"replay"}, args...))
	return output.String(), err
}

// openTestDB opens the runner's database file directly for seeding and assertions.
func openTestDB(t *testing.T, config *shared.Config) *repositories.ListenRepository {
	t.Helper()
	db, err := shared.OpenDatabase(context.Background(), config.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewListenRepository(db)
}

func playedAt(ago time.Duration) string {
	return time.Now().Add(-ago).UTC().Format(time.RFC3339Nano)
}

// newSpotifyServer serves a fixed recently-played page and audio features for t1.
func newSpotifyServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	first, second := playedAt(10*time.Minute), playedAt(5*time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/player/recently-played", func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer tok-alice" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"items":[
			{"track":{"id":"t2","name":"Second","artists":[{"name":"B"}],"album":{"name":"Album","images":[]},"duration_ms":1000},"played_at":%q},
			{"track":{"id":"t1","name":"First","artists":[{"name":"A"}],"album":{"name":"Album","images":[]},"duration_ms":1000},"played_at":%q}
		]}`, second, first)
	})
	mux.HandleFunc("GET /audio-features", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"audio_features":[{"id":"t1","tempo":120},null]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newBrokerServer resolves alice and reports every other user as unlinked.
func newBrokerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid != "alice" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%s","token_type":"Bearer","expires_in":3600}`, uid)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// pipelineRunner wires a runner to fake Spotify and broker servers.
func pipelineRunner(t *testing.T, requests *atomic.Int32) (*Runner, *bytes.Buffer, *shared.Config) {
	t.Helper()
	spotify := newSpotifyServer(t, requests)
	broker := newBrokerServer(t)

	config := testConfig(t)
	config.Ingest.TokenBrokerURL = broker.URL + "/token"
	config.Ingest.RateLimit = 1000

	r, output := newTestRunner(t, config, RunnerOpts{SpotifyBaseURL: spotify.URL})
	return r, output, config
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:         config,
				Logger:         logger,
				Output:         output,
				HTTPClient:     httpClient,
				SpotifyBaseURL: "http://spotify.test",
				TokenURL:       "http://accounts.test/api/token",
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.spotifyBaseURL != "http://spotify.test" || runner.tokenURL != "http://accounts.test/api/token" {
				t.Errorf("expected upstream overrides, got %q %q", runner.spotifyBaseURL, runner.tokenURL)
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output == nil {
				t.Error("expected default output to be set")
			}
			if runner.httpClient == nil || runner.httpClient.Timeout == 0 {
				t.Error("expected default httpClient with a timeout")
			}
			if runner.openBrowser == nil {
				t.Error("expected default browser opener")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			data := map[string]string{"key": "value"}
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("writes plain text without formatting", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("simple text")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "simple text" {
				t.Errorf("expected 'simple text', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		want := []string{"setup", "users", "spotify", "ingest", "listens", "serve"}
		if len(commands) != len(want) {
			t.Fatalf("expected %d commands, got %d", len(want), len(commands))
		}
		for i, cmd := range commands {
			if cmd == nil || cmd.Name != want[i] {
				t.Errorf("command at index %d: expected %s, got %+v", i, want[i], cmd)
			}
		}
	})

	t.Run("describeCursor", func(t *testing.T) {
		ran := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		watermark := ran.Add(-time.Hour).UnixMilli()
		msg := "boom"

		tests := []struct {
			name   string
			cursor *models.IngestCursor
			want   []string
		}{
			{"nil cursor", nil, []string{"never run"}},
			{"never run", &models.IngestCursor{UserID: "u"}, []string{"never run"}},
			{"success", &models.IngestCursor{LastRunAt: &ran, LastFetchedAt: &watermark}, []string{"last run 2024-01-15T10:30:00Z", "watermark 2024-01-15T09:30:00Z"}},
			{"failure", &models.IngestCursor{LastRunAt: &ran, LastError: &msg}, []string{"error: boom"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := describeCursor(tt.cursor)
				for _, w := range tt.want {
					if !strings.Contains(got, w) {
						t.Errorf("describeCursor() = %q, want it to contain %q", got, w)
					}
				}
			})
		}
	})
}

func TestSetup(t *testing.T) {
	t.Run("creates config and database", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		r, output := newTestRunner(t, shared.DefaultConfig(), RunnerOpts{})
		out, err := run(t, r, output, "setup")
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		tu.AssertFileExists(t, filepath.Join(dir, "config.toml"))
		tu.AssertFileExists(t, filepath.Join(dir, "replay.db"))
		if conf := tu.MustReadFile(t, filepath.Join(dir, "config.toml")); !strings.Contains(conf, "[ingest]") {
			t.Errorf("expected config template, got %q", conf)
		}
		if !strings.Contains(out, "✓ Database ready") {
			t.Errorf("expected success message, got %q", out)
		}
	})

	t.Run("reports incomplete config", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("TOKEN_BROKER_URL", "")

		r, output := newTestRunner(t, testConfig(t), RunnerOpts{})
		out, err := run(t, r, output, "setup")
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if !strings.Contains(out, "Configuration is incomplete") {
			t.Errorf("expected config warning, got %q", out)
		}
	})
}

func TestUsersCommands(t *testing.T) {
	config := testConfig(t)
	r, output := newTestRunner(t, config, RunnerOpts{})

	t.Run("add", func(t *testing.T) {
		out, err := run(t, r, output, "users", "add", "--name", "Alice", "alice")
		if err != nil {
			t.Fatalf("users add failed: %v", err)
		}
		if !strings.Contains(out, "✓ Added user alice") {
			t.Errorf("unexpected output %q", out)
		}

		if _, err := run(t, r, output, "users", "add", "bob"); err != nil {
			t.Fatalf("users add failed: %v", err)
		}
	})

	t.Run("add without uid", func(t *testing.T) {
		_, err := run(t, r, output, "users", "add")
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("list as JSON", func(t *testing.T) {
		out, err := run(t, r, output, "users", "list", "--json")
		if err != nil {
			t.Fatalf("users list failed: %v", err)
		}

		var rows []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Linked      bool   `json:"linked"`
		}
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to decode %q: %v", out, err)
		}
		if len(rows) != 2 || rows[0].ID != "alice" || rows[0].DisplayName != "Alice" || rows[1].ID != "bob" {
			t.Errorf("unexpected users %+v", rows)
		}
		if rows[0].Linked {
			t.Error("expected alice to be unlinked")
		}
	})

	t.Run("list as text", func(t *testing.T) {
		out, err := run(t, r, output, "users", "list")
		if err != nil {
			t.Fatalf("users list failed: %v", err)
		}
		if !strings.Contains(out, "Users (2)") || !strings.Contains(out, "alice (Alice)") || !strings.Contains(out, "never run") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if _, err := run(t, r, output, "users", "remove", "bob"); err != nil {
			t.Fatalf("users remove failed: %v", err)
		}

		_, err := run(t, r, output, "users", "remove", "bob")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound for a removed user, got %v", err)
		}
	})
}

func TestIngestCommands(t *testing.T) {
	t.Run("run ingests linked users and skips unlinked ones", func(t *testing.T) {
		r, output, config := pipelineRunner(t, nil)
		for _, uid := range []string{"alice", "bob"} {
			if _, err := run(t, r, output, "users", "add", uid); err != nil {
				t.Fatalf("users add failed: %v", err)
			}
		}

		out, err := run(t, r, output, "ingest", "run", "--json")
		if err != nil {
			t.Fatalf("ingest run failed: %v", err)
		}

		var stats models.IngestStats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("failed to decode %q: %v", out, err)
		}
		if stats.ProcessedUsers != 2 || stats.Unlinked != 1 || stats.ProcessedListens != 2 || stats.Errors != 0 {
			t.Errorf("unexpected stats %+v", stats)
		}

		listens := openTestDB(t, config)
		if n, _ := listens.Count(context.Background(), "alice"); n != 2 {
			t.Errorf("expected 2 stored listens, got %d", n)
		}

		if _, err := run(t, r, output, "ingest", "run", "--json"); err != nil {
			t.Fatalf("second ingest run failed: %v", err)
		}
		if n, _ := listens.Count(context.Background(), "alice"); n != 2 {
			t.Errorf("expected a rerun to store nothing new, got %d listens", n)
		}

		out, err = run(t, r, output, "listens", "list", "alice", "--json")
		if err != nil {
			t.Fatalf("listens list failed: %v", err)
		}
		var stored []models.ListenEvent
		if err := json.Unmarshal([]byte(out), &stored); err != nil {
			t.Fatalf("failed to decode %q: %v", out, err)
		}
		if len(stored) != 2 || stored[0].TrackID != "t2" || stored[1].TrackID != "t1" {
			t.Errorf("expected newest first [t2 t1], got %+v", stored)
		}
	})

	t.Run("run prints progress and stats", func(t *testing.T) {
		r, output, _ := pipelineRunner(t, nil)
		if _, err := run(t, r, output, "users", "add", "alice"); err != nil {
			t.Fatalf("users add failed: %v", err)
		}

		out, err := run(t, r, output, "ingest", "run")
		if err != nil {
			t.Fatalf("ingest run failed: %v", err)
		}
		if !strings.Contains(out, "Users processed: 1") || !strings.Contains(out, "Listens written: 2") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("run requires a broker url", func(t *testing.T) {
		config := testConfig(t)
		config.Ingest.TokenBrokerURL = ""
		r, output := newTestRunner(t, config, RunnerOpts{})

		_, err := run(t, r, output, "ingest", "run")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("user", func(t *testing.T) {
		r, output, _ := pipelineRunner(t, nil)
		if _, err := run(t, r, output, "users", "add", "alice"); err != nil {
			t.Fatalf("users add failed: %v", err)
		}

		out, err := run(t, r, output, "ingest", "user", "alice")
		if err != nil {
			t.Fatalf("ingest user failed: %v", err)
		}
		if !strings.Contains(out, "✓ Ingested 2 listens for alice") {
			t.Errorf("unexpected output %q", out)
		}

		out, err = run(t, r, output, "ingest", "user", "carol")
		if err != nil {
			t.Fatalf("ingest user failed: %v", err)
		}
		if !strings.Contains(out, "has not linked Spotify") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("reset", func(t *testing.T) {
		r, output, _ := pipelineRunner(t, nil)
		if _, err := run(t, r, output, "users", "add", "alice"); err != nil {
			t.Fatalf("users add failed: %v", err)
		}
		if _, err := run(t, r, output, "ingest", "user", "alice"); err != nil {
			t.Fatalf("ingest user failed: %v", err)
		}

		out, err := run(t, r, output, "ingest", "reset", "alice")
		if err != nil {
			t.Fatalf("ingest reset failed: %v", err)
		}
		if !strings.Contains(out, "✓ Reset cursor for alice") {
			t.Errorf("unexpected output %q", out)
		}

		out, _ = run(t, r, output, "ingest", "reset", "alice")
		if !strings.Contains(out, "No cursor stored") {
			t.Errorf("expected second reset to find nothing, got %q", out)
		}
	})

	t.Run("token", func(t *testing.T) {
		config := testConfig(t)
		config.Server.JWTSecret = "s3cret"
		r, output := newTestRunner(t, config, RunnerOpts{})

		out, err := run(t, r, output, "ingest", "token", "--ttl", "5m", "alice")
		if err != nil {
			t.Fatalf("ingest token failed: %v", err)
		}

		parsed, err := jwt.ParseWithClaims(strings.TrimSpace(out), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
			return []byte("s3cret"), nil
		})
		if err != nil {
			t.Fatalf("issued token does not verify: %v", err)
		}
		if sub, _ := parsed.Claims.GetSubject(); sub != "alice" {
			t.Errorf("expected subject alice, got %q", sub)
		}
	})

	t.Run("token without secret", func(t *testing.T) {
		r, output := newTestRunner(t, testConfig(t), RunnerOpts{})

		_, err := run(t, r, output, "ingest", "token", "alice")
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestListensPurge(t *testing.T) {
	config := testConfig(t)
	r, output := newTestRunner(t, config, RunnerOpts{})
	if _, err := run(t, r, output, "users", "add", "alice"); err != nil {
		t.Fatalf("users add failed: %v", err)
	}

	db, err := shared.OpenDatabase(context.Background(), config.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	writer := repositories.NewBufferedWriter(db, 10, shared.NewLogger(io.Discard))
	now := time.Now()
	listen := func(trackID string, expire time.Time) models.ListenEvent {
		played := expire.Add(-time.Hour)
		return models.ListenEvent{
			DocID:           models.ListenDocID(played.UnixMilli(), trackID),
			UserID:          "alice",
			TrackID:         trackID,
			TrackName:       trackID,
			ArtistNames:     []string{"A"},
			PlayedAt:        played,
			PlayedAtEpochMS: played.UnixMilli(),
			ExpireAt:        expire,
		}
	}
	ctx := context.Background()
	writer.UpsertListens(ctx, []models.ListenEvent{listen("old", now.Add(-time.Minute)), listen("new", now.Add(time.Hour))})
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("failed to seed listens: %v", err)
	}

	out, err := run(t, r, output, "listens", "purge")
	if err != nil {
		t.Fatalf("listens purge failed: %v", err)
	}
	if !strings.Contains(out, "✓ Purged 1 expired listens") {
		t.Errorf("unexpected output %q", out)
	}

	if n, _ := repositories.NewListenRepository(db).Count(ctx, "alice"); n != 1 {
		t.Errorf("expected 1 listen left, got %d", n)
	}
}

func TestSpotifyLink(t *testing.T) {
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`)
	}))
	defer accounts.Close()

	linkConfig := func(t *testing.T) *shared.Config {
		port := freePort(t)
		config := testConfig(t)
		config.Server.Host = "127.0.0.1"
		config.Server.Port = port
		config.Credentials.Spotify = shared.SpotifyConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURI:  fmt.Sprintf("http://127.0.0.1:%d/callback", port),
		}
		return config
	}

	// approve follows the consent page straight to the callback.
	approve := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		resp, err := http.Get(q.Get("redirect_uri") + "?code=good-code&state=" + url.QueryEscape(q.Get("state")))
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	t.Run("link stores the refresh token", func(t *testing.T) {
		config := linkConfig(t)
		r, output := newTestRunner(t, config, RunnerOpts{TokenURL: accounts.URL, OpenBrowser: approve})

		out, err := run(t, r, output, "spotify", "link", "alice")
		if err != nil {
			t.Fatalf("spotify link failed: %v", err)
		}
		if !strings.Contains(out, "✓ Linked Spotify for alice") {
			t.Errorf("unexpected output %q", out)
		}

		db, err := shared.OpenDatabase(context.Background(), config.Database)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		token, err := repositories.NewCredentialRepository(db).RefreshToken(context.Background(), "alice")
		if err != nil || token != "refresh-1" {
			t.Errorf("expected stored refresh token, got %q (%v)", token, err)
		}

		if _, err := run(t, r, output, "spotify", "unlink", "alice"); err != nil {
			t.Fatalf("spotify unlink failed: %v", err)
		}
		if _, err := repositories.NewCredentialRepository(db).RefreshToken(context.Background(), "alice"); !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken after unlink, got %v", err)
		}
	})

	t.Run("times out without a callback", func(t *testing.T) {
		noBrowser := func(string) error { return errors.New("no browser") }
		r, output := newTestRunner(t, linkConfig(t), RunnerOpts{TokenURL: accounts.URL, OpenBrowser: noBrowser})

		out, err := run(t, r, output, "spotify", "link", "--timeout", "50ms", "alice")
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
		if !strings.Contains(out, "Please open this URL") {
			t.Errorf("expected manual URL fallback, got %q", out)
		}
	})

	t.Run("requires client credentials", func(t *testing.T) {
		r, output := newTestRunner(t, testConfig(t), RunnerOpts{})

		_, err := run(t, r, output, "spotify", "link", "alice")
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestSchedule(t *testing.T) {
	var requests atomic.Int32
	r, output, config := pipelineRunner(t, &requests)
	if _, err := run(t, r, output, "users", "add", "alice"); err != nil {
		t.Fatalf("users add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := r.database(ctx)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	p, err := r.newPipeline(db)
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.schedule(ctx, p, repositories.NewListenRepository(db), 10*time.Millisecond)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for requests.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if requests.Load() < 2 {
		t.Fatalf("expected at least two scheduled runs, saw %d upstream requests", requests.Load())
	}

	n, err := openTestDB(t, config).Count(context.Background(), "alice")
	if err != nil || n != 2 {
		t.Errorf("expected 2 listens after repeated runs, got %d (%v)", n, err)
	}
}
