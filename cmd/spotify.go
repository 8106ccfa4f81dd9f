package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/repositories"
	"github.com/desertthunder/replay/internal/server"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// SpotifyLink runs the authorization code flow for a user and stores the refresh token.
//
// The user is registered first when unknown.
func (r *Runner) SpotifyLink(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	auth, err := services.NewSpotifyAuth(r.config.Credentials.Spotify, r.tokenURL, r.httpClient)
	if err != nil {
		return err
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	users := repositories.NewUserRepository(db)
	if _, err := users.Get(ctx, uid); errors.Is(err, shared.ErrNotFound) {
		if err := users.Create(ctx, &models.User{ID: uid}); err != nil {
			return err
		}
		r.logger.Info("registered user", "user", uid)
	} else if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, auth, cmd.Duration("timeout"))
	if err != nil {
		return err
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("%w: authorization returned no refresh token", shared.ErrNoRefreshToken)
	}

	if err := repositories.NewCredentialRepository(db).Save(ctx, uid, token.RefreshToken); err != nil {
		return err
	}

	r.writePlain("✓ Linked Spotify for %s\n", uid)
	return nil
}

// SpotifyUnlink deletes a user's refresh token. Stored listens are kept.
func (r *Runner) SpotifyUnlink(ctx context.Context, cmd *cli.Command) error {
	uid := cmd.StringArg("uid")
	if uid == "" {
		return fmt.Errorf("%w: uid is required", shared.ErrMissingArgument)
	}

	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	if err := repositories.NewCredentialRepository(db).Delete(ctx, uid); err != nil {
		return err
	}

	r.writePlain("✓ Unlinked Spotify for %s\n", uid)
	return nil
}

// doOAuth serves the callback route, opens the consent page, and waits for the exchanged token.
func (r *Runner) doOAuth(ctx context.Context, auth *services.SpotifyAuth, timeout time.Duration) (*oauth2.Token, error) {
	state := shared.GenerateID()

	authURL := auth.AuthURL(state)
	oauthHandler := server.NewOAuthHandler(auth, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	serverAddr := r.config.Server.Addr()
	ln, err := net.Listen("tcp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", serverAddr, err)
	}
	httpServer := &http.Server{Handler: router}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", serverAddr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%v timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %v", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("no token received")
	}

	return result.Token, nil
}
