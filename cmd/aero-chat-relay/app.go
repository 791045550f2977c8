package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/api"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/calls"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/groups"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/identity"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/messaging"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/persist"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/session"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store/memory"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store/postgres"
)

// app owns every long-lived component of one relay process.
type app struct {
	log     *slog.Logger
	store   store.Store
	persist *persist.Queue
	metrics *metrics.Metrics
	http    *httpserver.Server
	sig     *signaling.Server
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	queue := persist.New(persist.Config{
		Size:    cfg.PersistQueueSize,
		Timeout: cfg.PersistTimeout,
		Logger:  logger.With("component", "persist"),
		Metrics: m,
	})

	pres := presence.NewRegistry()
	grp := groups.NewManager(st)
	resolver := identity.NewResolver(pres, st)

	router := messaging.NewRouter(messaging.Config{
		Presence: pres,
		Groups:   grp,
		Resolver: resolver,
		Messages: st,
		Persist:  queue,
		Logger:   logger.With("component", "messaging"),
		Metrics:  m,
	})
	callSvc := calls.NewService(calls.Config{
		Presence:      pres,
		Resolver:      resolver,
		Calls:         st,
		Persist:       queue,
		Logger:        logger.With("component", "calls"),
		Metrics:       m,
		CreateTimeout: cfg.PersistTimeout,
	})
	sessions := session.NewManager(session.Config{
		MaxSessions:        cfg.MaxSessions,
		OutboundQueueBytes: cfg.OutboundQueueBytes,
		EventsPerSecond:    cfg.MaxEventsPerSecond,
		Logger:             logger,
		Metrics:            m,
	})

	sig := signaling.NewServer(signaling.Config{
		Sessions:        sessions,
		Presence:        pres,
		Groups:          grp,
		Router:          router,
		Calls:           callSvc,
		Verifier:        verifier,
		AuthMode:        cfg.AuthMode,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthTimeout:     cfg.AuthTimeout,
		IdleTimeout:     cfg.WSIdleTimeout,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          logger.With("component", "signaling"),
		Metrics:         m,
	})

	m.RegisterGaugeFunc("presence_handles", "Handles currently registered.", func() float64 {
		return float64(pres.Len())
	})

	srv := httpserver.New(cfg, logger, build)
	srv.SetMetrics(m)
	sig.RegisterRoutes(srv.Mux())
	if pinger, ok := st.(interface{ Ping(context.Context) error }); ok {
		srv.AddReadinessCheck("store", pinger.Ping)
	}
	if cfg.JWTSecret != "" {
		srv.HandleCORS(api.HistoryPath, api.NewHistoryHandler(api.HistoryConfig{
			Verifier: auth.NewJWTVerifier(cfg.JWTSecret),
			Calls:    st,
			Logger:   logger.With("component", "api"),
		}))
	}

	return &app{
		log:     logger,
		store:   st,
		persist: queue,
		metrics: m,
		http:    srv,
		sig:     sig,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.StoreDriverMemory:
		st := memory.New()
		for _, acct := range cfg.SeedAccounts {
			st.AddAccount(acct.ID, acct.Handle)
		}
		for _, g := range cfg.SeedGroups {
			st.AddGroup(g)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func (a *app) serve(ln net.Listener) error {
	return a.http.Serve(ln)
}

// shutdown stops accepting connections, closes live sessions, drains pending
// persistence work and finally closes the store.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.sig.Close()
	if err := a.persist.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain persistence queue: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
