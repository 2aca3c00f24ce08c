package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/api"
	"github.com/venueops/email-worker/internal/config"
	"github.com/venueops/email-worker/internal/mailer"
	"github.com/venueops/email-worker/internal/providers/graph"
	imapprovider "github.com/venueops/email-worker/internal/providers/imap"
	"github.com/venueops/email-worker/internal/sink"
	"github.com/venueops/email-worker/internal/store"
	"github.com/venueops/email-worker/internal/sync"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") != "" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer closeStore()

	fwd, closeSink, err := openSink(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("sink")
	}
	defer closeSink()

	dedup := sync.NewDedupCache(config.DedupTTL, config.DedupMaxEntries)
	manager := sync.NewManager(log)

	go startListeners(ctx, cfg, st, fwd, dedup, manager, log)

	// HTTP action surface.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	var authMW gin.HandlerFunc
	if cfg.JWKSURL != "" {
		verifier, err := api.NewVerifier(ctx, cfg.JWKSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("jwks verifier")
		}
		authMW = verifier.Middleware()
	}

	graphFactory := func(ctx context.Context, account *store.GraphAccount) api.GraphActions {
		cli := graph.NewClient(ctx, account.TenantID, cfg.GraphClientID, cfg.GraphClientSecret)
		return graph.NewActions(cli, log)
	}
	server := api.NewServer(st, imapprovider.NewActions(log), graphFactory, mailer.NewSender(log), log)
	server.Routes(r, authMW)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	manager.StopAll()
	log.Info().Msg("stopped")
}

// startListeners loads every active account and hands each one to the
// manager, pausing between starts so reconnect storms do not hit the
// providers all at once.
func startListeners(ctx context.Context, cfg *config.Config, st store.Store, fwd sink.Forwarder, dedup sync.Dedup, manager *sync.Manager, log zerolog.Logger) {
	imapAccounts, err := st.ListIMAPAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list imap accounts")
	}
	graphAccounts, err := st.ListGraphAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list graph accounts")
	}
	log.Info().Int("imap", len(imapAccounts)).Int("graph", len(graphAccounts)).Msg("accounts loaded")

	for _, account := range imapAccounts {
		if !account.HasCredentials() {
			log.Warn().Str("venue_id", account.VenueID).Msg("imap account has no credentials, skipping")
			continue
		}
		listener := imapprovider.NewListener(account, st, fwd, log)
		if err := manager.Start(ctx, listener); err != nil {
			log.Error().Err(err).Str("account", listener.Key()).Msg("start listener")
		}
		if !sync.SleepCtx(ctx, config.StartupDelay) {
			return
		}
	}

	for _, account := range graphAccounts {
		if !account.HasCredentials() {
			log.Warn().Str("venue_id", account.VenueID).Msg("graph account has no credentials, skipping")
			continue
		}
		if cfg.GraphClientID == "" || cfg.GraphClientSecret == "" {
			log.Warn().Str("venue_id", account.VenueID).Msg("no graph client credential configured, skipping")
			continue
		}
		cli := graph.NewClient(ctx, account.TenantID, cfg.GraphClientID, cfg.GraphClientSecret)
		listener := graph.NewListener(&account, cli, st, fwd, dedup, log)
		if err := manager.Start(ctx, listener); err != nil {
			log.Error().Err(err).Str("account", listener.Key()).Msg("start listener")
		}
		if !sync.SleepCtx(ctx, config.StartupDelay) {
			return
		}
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.StoreURL != "" {
		return store.NewRESTStore(cfg.StoreURL, cfg.StoreServiceKey), func() {}, nil
	}
	st, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}

func openSink(cfg *config.Config, log zerolog.Logger) (sink.Forwarder, func(), error) {
	if cfg.NATSURL != "" {
		n, err := sink.NewNATS(cfg.NATSURL, log)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}
	return sink.NewWebhook(cfg.WebhookURL, log), func() {}, nil
}
