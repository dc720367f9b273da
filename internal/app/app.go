package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-market-data/internal/alerting"
	"fx-market-data/internal/api"
	"fx-market-data/internal/auth"
	"fx-market-data/internal/config"
	"fx-market-data/internal/logging"
	"fx-market-data/internal/scheduler"
	"fx-market-data/internal/snapshot"
	"fx-market-data/internal/store"
	"fx-market-data/internal/stream"
	"fx-market-data/internal/supervisor"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	return store.NewRedis(ctx, store.RedisOptions{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		PoolSize: a.Config.Redis.PoolSize,
	})
}

func (a *App) newAuthManager(st store.Store) *auth.Manager {
	cfg := a.Config.OAuth
	return auth.NewManager(auth.Options{
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RedirectURI:       cfg.RedirectURI,
		AuthURL:           cfg.AuthURL,
		TokenURL:          cfg.TokenURL,
		Scope:             cfg.Scope,
		RequestTimeout:    cfg.RequestTimeout,
		AllowMissingState: cfg.AllowMissingState,
		StateTTL:          cfg.StateTTL,
		StoreTTLBuffer:    cfg.StoreTTLBuffer,
	}, st, a.Logger)
}

func (a *App) newStreamClient(st store.Store) *stream.Client {
	cfg := a.Config.Stream
	return stream.NewClient(stream.Options{
		WSURL:            cfg.WSURL,
		APIBase:          cfg.APIBase,
		ContextID:        cfg.ContextID,
		Instruments:      cfg.Instruments,
		RefreshRate:      cfg.RefreshRate,
		TickTTL:          cfg.TickTTL,
		HistoryLimit:     cfg.HistoryLimit,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		RequestTimeout:   cfg.RequestTimeout,
	}, st, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// streamConnector narrows the stream client to the supervisor's view.
type streamConnector struct {
	client *stream.Client
}

func (c streamConnector) Connect(ctx context.Context, token string) (supervisor.Session, error) {
	session, err := c.client.Connect(ctx, token)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Run executes the long-running ingestion service: the supervised stream
// pipeline plus, when enabled, the read API and the snapshot writer.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := a.newAuthManager(st)
	client := a.newStreamClient(st)
	notifier := a.newNotifier()

	sup := supervisor.New(supervisor.Options{
		Symbols:           client.Symbols(),
		InitialBackoff:    a.Config.Supervisor.InitialBackoff,
		MaxBackoff:        a.Config.Supervisor.MaxBackoff,
		MaxRestarts:       a.Config.Supervisor.MaxRestarts,
		SteadyReset:       a.Config.Supervisor.SteadyReset,
		HeartbeatInterval: a.Config.Supervisor.HeartbeatInterval,
		HeartbeatTTL:      a.Config.Supervisor.HeartbeatTTL,
		StatusTTL:         a.Config.Supervisor.StatusTTL,
	}, manager, streamConnector{client: client}, st, notifier, a.Logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if a.Config.API.Enabled {
		server := api.NewServer(api.Options{
			Addr:         a.Config.API.Addr,
			ReadTimeout:  a.Config.API.ReadTimeout,
			WriteTimeout: a.Config.API.WriteTimeout,
		}, st, manager, logging.Component(a.Logger, "api"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(); err != nil {
				errCh <- err
				cancel()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn().Err(err).Msg("api shutdown incomplete")
			}
		}()
	}

	if a.Config.Database.Enabled {
		pool, err := snapshot.NewPool(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		snapStore := snapshot.NewStore(pool)
		defer snapStore.Close()

		job := snapshot.NewJob(st, snapStore, logging.Component(a.Logger, "snapshot"))
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Snapshot.Interval,
			AlignToStart: a.Config.Snapshot.AlignToBucket,
			StartupDelay: a.Config.Snapshot.StartupDelay,
		}, a.Logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx, job.Run); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}

	a.Logger.Info().Strs("symbols", client.Symbols()).Msg("starting ingestion service")
	runErr := sup.Run(ctx)
	cancel()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("ingestion terminated with error")
		return runErr
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}

	a.Logger.Info().Msg("ingestion service stopped")
	return nil
}

// AuthorizeOptions configure the authorize command.
type AuthorizeOptions struct {
	Code  string
	State string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	History int
}

// ExportOptions hold parameters for exporting tick history.
type ExportOptions struct {
	Symbol    string
	CSVPath   string
	PNGPath   string
	MaxPoints int
}
