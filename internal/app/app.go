package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"okxwatch/internal/alerting"
	"okxwatch/internal/config"
	"okxwatch/internal/fetcher"
	"okxwatch/internal/instruments"
	"okxwatch/internal/presenter"
	"okxwatch/internal/service"
	"okxwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; logs never go here.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newClient() *fetcher.Client {
	okx := a.Config.OKX
	return fetcher.NewClient(fetcher.ClientOptions{
		BaseURL:    okx.BaseURL,
		APIKey:     okx.APIKey,
		SecretKey:  okx.SecretKey,
		Passphrase: okx.Passphrase,
		Simulated:  okx.Simulated,
		Timeout:    okx.RequestTimeout,
		UserAgent:  okx.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Fanout{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

// newPresenter returns the table writer plus, when enabled, the Redis publisher.
func (a *App) newPresenter(ctx context.Context) (presenter.Presenter, func(), error) {
	table := presenter.NewTablePresenter(a.Out)
	if !a.Config.Redis.Enabled {
		return table, func() {}, nil
	}

	rc := a.Config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}

	a.Logger.Info().Str("addr", rc.Addr).Msg("publishing snapshots to redis")
	closer := func() {
		_ = client.Close()
	}
	return presenter.Multi{table, presenter.NewRedisPresenter(client, rc.KeyPrefix, 0)}, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// loadInstruments returns the configured list, or the instrument file when
// no list is configured. Repeated identifiers are dropped.
func (a *App) loadInstruments() ([]string, error) {
	if len(a.Config.Instruments.List) > 0 {
		return instruments.Dedupe(a.Config.Instruments.List), nil
	}
	list, err := instruments.ReadFile(a.Config.Instruments.File)
	if err != nil {
		return nil, err
	}
	return instruments.Dedupe(list), nil
}

func (a *App) requireInstruments() ([]string, error) {
	list, err := a.loadInstruments()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: add instrument IDs to %s", service.ErrNoInstruments, a.Config.Instruments.File)
	}
	return list, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	list, err := a.loadInstruments()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	pres, closePresenter, err := a.newPresenter(ctx)
	if err != nil {
		return err
	}
	defer closePresenter()

	deps := service.Deps{
		Prices:    a.newClient(),
		Notifier:  a.newNotifier(),
		Presenter: pres,
	}
	if store != nil {
		deps.Archive = store
		deps.Alerts = store
		deps.Locker = store
	}

	svc := service.New(a.Config, list, deps, a.Logger)

	if len(alertToggleSignals) > 0 {
		toggles := make(chan os.Signal, 1)
		signal.Notify(toggles, alertToggleSignals...)
		defer signal.Stop(toggles)
		go a.watchAlertToggle(ctx, svc.Gate(), toggles)
	}

	a.Logger.Info().Int("instruments", len(list)).
		Dur("refresh_interval", a.Config.Scheduler.RefreshInterval).
		Str("threshold_pct", svc.Gate().Threshold().StringFixed(2)).
		Bool("alerts_enabled", a.Config.Alerting.Enabled).
		Msg("starting monitoring service")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived samples.
type ExportOptions struct {
	Instrument string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Instrument string
	Limit      int
	Alerts     bool
	// PruneAlerts deletes archived alerts older than this age first.
	PruneAlerts time.Duration
}

// BackfillOptions configure the archive backfill job.
type BackfillOptions struct {
	Bar     string
	Limit   int
	DryRun  bool
	Workers int
}

// ChartOptions configure the candlestick chart command.
type ChartOptions struct {
	Instrument string
	Bar        string
	Limit      int
	PNGPath    string
}

// SimulateOptions configure a replayed price path.
type SimulateOptions struct {
	Instrument string
	Prices     []string
	Step       time.Duration
}
