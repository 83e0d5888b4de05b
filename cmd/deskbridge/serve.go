package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/deskbridge/deskbridge/internal/agents"
	"github.com/deskbridge/deskbridge/internal/assignment"
	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/channel/adapters/chatwoot"
	"github.com/deskbridge/deskbridge/internal/channel/adapters/messenger"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/conversation"
	"github.com/deskbridge/deskbridge/internal/db"
	"github.com/deskbridge/deskbridge/internal/dispatch"
	"github.com/deskbridge/deskbridge/internal/handlers"
	"github.com/deskbridge/deskbridge/internal/ingest"
	"github.com/deskbridge/deskbridge/internal/logger"
	"github.com/deskbridge/deskbridge/internal/notify"
	"github.com/deskbridge/deskbridge/internal/oauthstate"
	"github.com/deskbridge/deskbridge/internal/server"
	"github.com/deskbridge/deskbridge/internal/settings"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStateStore,
			agents.NewService,
			settings.NewService,
			conversation.NewService,
			notify.NewHub,
			provideAssignmentEngine,
			provideChatwootAdapter,
			provideMessengerAdapter,
			provideChannelRegistry,
			provideProcessor,
			provideDispatcher,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideChatwootWebhookHandler),
			provideServerHandler(handlers.NewMessengerWebhookHandler),
			provideServerHandler(provideConnectHandler),
			provideServerHandler(handlers.NewConversationsHandler),
			provideServerHandler(handlers.NewAssignmentHandler),
			provideServerHandler(handlers.NewAgentsHandler),
			provideServerHandler(handlers.NewSettingsHandler),
			provideServerHandler(handlers.NewWSHandler),
			provideServer,
		),
		fx.Invoke(
			startNotifyHub,
			startSweep,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStateStore(lc fx.Lifecycle) *oauthstate.Store {
	store := oauthstate.NewStore(oauthstate.DefaultTTL)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { store.Close(); return nil }})
	return store
}

func provideAssignmentEngine(log *slog.Logger, agentSvc *agents.Service, conversations *conversation.Service) *assignment.Engine {
	return assignment.NewEngine(log, agentSvc, conversations)
}

func provideChatwootAdapter(log *slog.Logger, settingsSvc *settings.Service) *chatwoot.Adapter {
	return chatwoot.New(log, settingsSvc)
}

func provideMessengerAdapter(log *slog.Logger, settingsSvc *settings.Service, cfg config.Config, states *oauthstate.Store) *messenger.Adapter {
	adapter := messenger.New(log, settingsSvc, cfg.Messenger)
	adapter.SetStateStore(states, cfg.Server.BaseURL+"/connect/messenger/callback")
	return adapter
}

func provideChannelRegistry(cw *chatwoot.Adapter, ms *messenger.Adapter) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	if err := registry.Register(cw); err != nil {
		return nil, err
	}
	if err := registry.Register(ms); err != nil {
		return nil, err
	}
	return registry, nil
}

func provideProcessor(log *slog.Logger, registry *channel.Registry, conversations *conversation.Service, engine *assignment.Engine, hub *notify.Hub) *ingest.Processor {
	return ingest.NewProcessor(log, registry, conversations, engine, hub)
}

func provideDispatcher(log *slog.Logger, registry *channel.Registry, conversations *conversation.Service) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, registry, conversations)
}

func provideChatwootWebhookHandler(log *slog.Logger, processor *ingest.Processor, settingsSvc *settings.Service) *handlers.ChatwootWebhookHandler {
	return handlers.NewChatwootWebhookHandler(log, processor, settingsSvc)
}

func provideConnectHandler(log *slog.Logger, adapter *messenger.Adapter, cfg config.Config) *handlers.ConnectHandler {
	return handlers.NewConnectHandler(log, adapter, cfg.Messenger.CompleteURL)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers)
}

func startNotifyHub(lc fx.Lifecycle, hub *notify.Hub) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go hub.Run()
			return nil
		},
	})
}

// startSweep schedules the redistribution pass across every company that
// has unassigned open conversations. Disabled when no cron expression is
// configured; the administrative endpoint still triggers sweeps on demand.
func startSweep(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, engine *assignment.Engine, conversations *conversation.Service) error {
	schedule := cfg.Assignment.SweepSchedule
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx := context.Background()
		companies, err := conversations.CompaniesWithUnassigned(ctx)
		if err != nil {
			log.Error("sweep: listing companies failed", slog.Any("error", err))
			return
		}
		for _, companyID := range companies {
			if _, err := engine.Redistribute(ctx, companyID, cfg.Assignment.SweepBatch); err != nil {
				log.Error("sweep failed",
					slog.Int64("company_id", companyID),
					slog.Any("error", err))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
