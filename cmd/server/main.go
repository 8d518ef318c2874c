package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/transcript-summary/auth"
	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/graph"
	"github.com/jrsteele09/transcript-summary/internal/config"
	"github.com/jrsteele09/transcript-summary/internal/keys"
	"github.com/jrsteele09/transcript-summary/internal/transport"
	"github.com/jrsteele09/transcript-summary/provider"
	"github.com/jrsteele09/transcript-summary/returnctx"
	"github.com/jrsteele09/transcript-summary/server"
	"github.com/jrsteele09/transcript-summary/sessions"
	"github.com/jrsteele09/transcript-summary/sessions/pgrepo"
	"github.com/jrsteele09/transcript-summary/sessions/redisrepo"
)

const sweepInterval = 10 * time.Minute

func main() {
	envFile := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	if err := run(*envFile); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(envFile string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx := context.Background()
	if err := config.Load(ctx, envFile); err != nil {
		return err
	}
	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	store, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := buildServer(ctx, c, store)
	if err != nil {
		return err
	}

	stopSweep := startSweeper(store)
	defer stopSweep()

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if c.GetEnv() == "DEV" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("app", c.GetAppName()).Logger()
}

func buildServer(ctx context.Context, c config.Config, store sessions.Store) (*server.Server, error) {
	deriver, err := keys.NewDeriver(c.GetAppSecret())
	if err != nil {
		return nil, fmt.Errorf("APP_SECRET: %w", err)
	}

	var codec credentials.Codec = credentials.JSONCodec{}
	if c.GetSealCredentials() {
		codec, err = credentials.NewSealedCodec(codec, deriver.MustDerive(keys.PurposeCredentialBox, 32))
		if err != nil {
			return nil, err
		}
	}

	httpClient := transport.NewClient(c.GetHTTPTimeout(), nil)
	p, err := provider.New(ctx, c, httpClient)
	if err != nil {
		return nil, err
	}
	graphClient := graph.NewClient(c.GetGraphBaseURL(), httpClient)

	coordinator := auth.NewCoordinator(store, p,
		returnctx.NewEncoder(deriver.MustDerive(keys.PurposeReturnContext, 32), c.GetAuthFlowTTL()),
		codec,
		auth.WithIdentityFetcher(graphClient),
		auth.WithSessionMaxAge(c.GetSessionMaxAge()),
		auth.WithFlowTTL(c.GetAuthFlowTTL()),
	)

	return server.New(c, server.Deps{
		Store: store,
		Cookies: sessions.NewCookieBinder(
			deriver.MustDerive(keys.PurposeCookieHash, 32),
			deriver.MustDerive(keys.PurposeCookieBlock, 32),
			c.GetSessionMaxAge(),
		),
		Coordinator: coordinator,
		Refresher:   credentials.NewRefresher(store, codec, p, c.GetTokenExpirySkew()),
		Graph:       graphClient,
	})
}

func openStore(ctx context.Context, c config.Config) (sessions.Store, func(), error) {
	kind := c.GetSessionStore()
	log.Info().Str("store", kind).Msg("Opening session store")
	switch kind {
	case "memory":
		return sessions.NewInMemoryRepo(), func() {}, nil
	case "redis":
		repo, err := redisrepo.NewFromURL(ctx, c.GetRedisURL())
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case "postgres":
		repo, err := pgrepo.NewFromURL(ctx, c.GetDatabaseURL())
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", kind)
}

// startSweeper drops expired sessions from stores that do not expire keys themselves.
func startSweeper(store sessions.Store) func() {
	var sweep func(ctx context.Context) (int64, error)
	switch s := store.(type) {
	case *sessions.InMemoryRepo:
		sweep = func(context.Context) (int64, error) { return int64(s.Sweep()), nil }
	case *pgrepo.Repo:
		sweep = s.DeleteExpired
	default:
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := sweep(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Session sweep failed")
					continue
				}
				log.Debug().Int64("removed", n).Msg("Expired sessions removed")
			}
		}
	}()
	return cancel
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
