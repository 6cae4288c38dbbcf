// Command sessiondemo walks through the session lifecycle against an
// in-process fake auth server: login, persistence across store instances,
// transparent token refresh after expiry, and logout.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/authtest"
	"github.com/jrsteele09/go-auth-client/client"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
)

const (
	demoEmail    = "owner@example.com"
	demoPassword = "password123"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running demo: %s\n", err)
	}
	log.Printf("Demo finished\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()
	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Fake back end standing in for the real auth server.
	backend := authtest.New(authtest.WithAccessTTL(2 * time.Second))
	defer backend.Close()
	if err := backend.AddUser(demoEmail, demoPassword, session.UserProfile{
		ID:           "u1",
		Email:        demoEmail,
		Role:         "owner",
		TenantID:     "tenant-1",
		BusinessName: "Demo Coffee Co",
	}); err != nil {
		return err
	}

	stateDir := c.GetStateDir()
	if stateDir == "" {
		tempDir, err := os.MkdirTemp("", "sessiondemo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tempDir)
		stateDir = tempDir
	}

	store, err := session.NewFileStore(
		filepath.Join(stateDir, "session.json"),
		filepath.Join(stateDir, "session.volatile.json"),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	bridge, err := session.NewFileBridge(store, session.WithBridgeLogger(logger))
	if err != nil {
		return err
	}
	defer bridge.Close()

	facade, err := auth.NewService(store, bridge, auth.WithLogger(logger))
	if err != nil {
		return err
	}
	defer facade.Close()

	unsubscribe := facade.Subscribe(func(s *session.Session) {
		logger.Info().Bool("authenticated", s.Authenticated()).Msg("session changed")
	})
	defer unsubscribe()

	api, err := client.New(backend.URL(), store, client.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := context.Background()

	sess, err := api.Login(ctx, demoEmail, demoPassword, true)
	if err != nil {
		return err
	}
	if _, err := facade.Login(sess, auth.LoginOptions{Remember: true}); err != nil {
		return err
	}

	claims := token.Decode(sess.AccessToken)
	logger.Info().
		Str("subject", claims.Subject).
		Time("expiresAt", claims.ExpiresAt).
		Msg("access token decoded (advisory only)")

	if err := callProfile(ctx, api, logger, "initial request"); err != nil {
		return err
	}

	// Simulate an expired access token: overwrite the stored session with a
	// token already past its exp claim, then watch the interceptor refresh
	// and replay transparently.
	expired := sess.Clone()
	expired.AccessToken = backend.MintAccessToken(demoEmail, -time.Minute)
	if _, err := store.Persist(expired, session.PersistOptions{Remember: true}); err != nil {
		return err
	}
	if err := callProfile(ctx, api, logger, "request with expired token"); err != nil {
		return err
	}
	logger.Info().Int("refreshCalls", backend.RefreshCalls()).Msg("server-side refresh count")

	if err := api.Logout(ctx); err != nil {
		return err
	}
	if err := facade.Logout(); err != nil {
		return err
	}
	logger.Info().Bool("authenticated", facade.IsAuthenticated()).Msg("after logout")
	return nil
}

func callProfile(ctx context.Context, api *client.Client, logger zerolog.Logger, label string) error {
	resp, err := api.Get(ctx, "/api/profile")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logger.Info().Int("status", resp.StatusCode).Str("body", string(body)).Msg(label)
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
}
