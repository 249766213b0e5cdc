// Package bootstrap owns the service lifecycle: configuration loading,
// dependency construction in an explicit init graph, webhook
// registration, and graceful shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rizo-card-bot/internal/app/services"
	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/credential"
	"rizo-card-bot/internal/domain/dispatch"
	"rizo-card-bot/internal/domain/gate"
	domainimage "rizo-card-bot/internal/domain/image"
	"rizo-card-bot/internal/domain/session"
	platformconfig "rizo-card-bot/internal/platform/config"
	platformerrors "rizo-card-bot/internal/platform/errors"
	platformlogging "rizo-card-bot/internal/platform/logging"
	platformstorage "rizo-card-bot/internal/platform/storage"
	httptransport "rizo-card-bot/internal/transport/http"
	"rizo-card-bot/internal/transport/telegram"
	upstreamopenai "rizo-card-bot/internal/upstream/openai"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger

	history      *platformstorage.HistoryStore
	sessionStore session.Store
	sessions     *session.Manager

	pool       *credential.Pool
	gatekeeper *gate.Gate
	upstream   *upstreamopenai.Client
	dispatcher *dispatch.Dispatcher
	validator  *domainimage.Validator
	stamper    *domainimage.Stamper

	botClient   *telegram.Client
	cardService *services.CardService
	status      *services.StatusService
	recorder    *services.HistoryRecorder
}

// Run starts the whole service lifecycle and blocks until shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	defer func() {
		logger.Close()
	}()
	defer func() {
		if state.recorder != nil {
			if err := state.recorder.Close(); err != nil {
				logger.WarnTag("events", "history recorder did not close cleanly: %v", err)
			}
		}
		if state.sessionStore != nil {
			if err := state.sessionStore.Close(); err != nil {
				logger.WarnTag("session", "session store did not close cleanly: %v", err)
			}
		}
		if state.history != nil {
			if err := state.history.Close(); err != nil {
				logger.WarnTag("storage", "history store did not close cleanly: %v", err)
			}
		}
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("bootstrap", "service stopped")
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	logger.InfoTag("bootstrap", "initialisation order")
	for _, step := range steps {
		logger.InfoTag("bootstrap", "  %s: %s", step.ID, step.Title)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph declares the dependency-ordered construction steps.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load-runtime",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load-runtime"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-history",
			Title:     "Open generation history store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initHistoryStep,
		},
		{
			ID:        "session:init-store",
			Title:     "Initialise session store and manager",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initSessionStep,
		},
		{
			ID:        "pipeline:init-components",
			Title:     "Build credential pool, gate, and dispatcher",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initPipelineStep,
		},
		{
			ID:        "telegram:init-client",
			Title:     "Build Telegram client",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindTelegram,
			Execute:   initTelegramStep,
		},
		{
			ID:    "services:init-card",
			Title: "Wire card service and history recorder",
			DependsOn: []string{
				"storage:init-history",
				"session:init-store",
				"pipeline:init-components",
				"telegram:init-client",
			},
			Execute: initServicesStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().WithDotEnv(true).WithPath("config.yaml").Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"logging:init-provider", "failed to initialise logging", err)
	}

	state.logger = logger
	platformlogging.DefaultLogger = logger
	logger.InfoTag("bootstrap", "logging ready [%s] config from %s",
		state.config.Log.Level, state.configPath)
	return nil
}

func initHistoryStep(_ context.Context, state *appState) error {
	history, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return err
	}
	state.history = history
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	cfg := state.config

	store, err := session.NewStore(session.StoreConfig{
		Driver:  cfg.Session.Driver,
		TTL:     cfg.Session.TTL,
		Cleanup: cfg.Session.Cleanup,
		Redis: &session.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Username: cfg.Session.Redis.Username,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
		},
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Options{
		Store:     store,
		Cooldown:  cfg.Cooldown(),
		ArmWindow: cfg.ArmWindow(),
	})
	if err != nil {
		_ = store.Close()
		return err
	}

	state.sessionStore = store
	state.sessions = sessions
	state.logger.InfoTag("session", "session store ready: driver=%s cooldown=%s",
		storeDriverName(cfg.Session.Driver), cfg.Cooldown())
	return nil
}

func storeDriverName(driver string) string {
	if driver == "" {
		return session.DriverMemory
	}
	return driver
}

func initPipelineStep(_ context.Context, state *appState) error {
	cfg := state.config

	pool, err := credential.NewPool(cfg.Upstream.APIKeys,
		credential.WithPolicy(credential.Policy(cfg.Upstream.Policy)))
	if err != nil {
		return err
	}

	upstream, err := upstreamopenai.New(upstreamopenai.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Model:   cfg.Upstream.Model,
	}, pool.Credentials())
	if err != nil {
		return err
	}

	gatekeeper := gate.New(cfg.Limits.MaxConcurrency)

	dispatcher, err := dispatch.New(dispatch.Options{
		Pool:        pool,
		Gate:        gatekeeper,
		Upstream:    upstream,
		Logger:      state.logger,
		Size:        card.Size{Width: cfg.Card.Width, Height: cfg.Card.Height},
		MaxAttempts: cfg.Limits.RetryAttempts,
		CallTimeout: cfg.Upstream.Timeout,
	})
	if err != nil {
		return err
	}

	stamper, err := domainimage.NewStamper(domainimage.StampConfig{
		Path:    cfg.Stamp.Path,
		Scale:   cfg.Stamp.Scale,
		XOffset: cfg.Stamp.XOffset,
		YOffset: cfg.Stamp.YOffset,
	})
	if err != nil {
		return err
	}

	state.pool = pool
	state.gatekeeper = gatekeeper
	state.upstream = upstream
	state.dispatcher = dispatcher
	state.validator = domainimage.NewValidator(domainimage.Limits{}, state.logger)
	state.stamper = stamper

	state.logger.InfoTag("dispatch", "pipeline ready: credentials=%d slots=%d policy=%s",
		pool.Size(), gatekeeper.Slots(), cfg.Upstream.Policy)
	return nil
}

func initTelegramStep(_ context.Context, state *appState) error {
	client, err := telegram.NewClient(state.config.Telegram.BotToken, state.logger)
	if err != nil {
		return err
	}
	state.botClient = client
	return nil
}

func initServicesStep(_ context.Context, state *appState) error {
	cardService, err := services.NewCardService(services.Options{
		Bot:        state.botClient,
		Sessions:   state.sessions,
		Dispatcher: state.dispatcher,
		Validator:  state.validator,
		Stamper:    state.stamper,
		Logger:     state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"services:init-card", "failed to build card service", err)
	}

	recorder, err := services.NewHistoryRecorder(state.history, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"services:init-card", "failed to attach history recorder", err)
	}

	state.cardService = cardService
	state.recorder = recorder
	state.status = services.NewStatusService(state.gatekeeper, state.history)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if err := startHTTPServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("failed to start HTTP service: %w", err)
	}
	registerWebhook(state, g, groupCtx)
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	config := state.config
	logger := state.logger

	router, err := httptransport.Build(httptransport.Options{
		BotToken: config.Telegram.BotToken,
		LogLevel: config.Log.Level,
		Logger:   logger,
		Handler:  state.cardService,
		Status:   state.status,
		BaseCtx:  groupCtx,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: router.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on %s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP server closed")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP server failed: %v", err)
			return err
		}
		return nil
	})
	return nil
}

// registerWebhook points Telegram at this deployment. Without an
// external URL the bot still serves the webhook route, so a proxy in
// front can be registered manually.
func registerWebhook(state *appState, g *errgroup.Group, groupCtx context.Context) {
	webhookURL := state.config.WebhookURL()
	if webhookURL == "" {
		state.logger.WarnTag("telegram", "no external URL configured, skipping webhook registration")
		return
	}

	retries := state.config.Telegram.WebhookRetries
	backoff := state.config.Telegram.WebhookBackoff

	g.Go(func() error {
		if err := state.botClient.SetWebhook(groupCtx, webhookURL, retries, backoff); err != nil {
			state.logger.ErrorTag("telegram", "webhook registration failed: %v", err)
			return err
		}
		return nil
	})
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("bootstrap", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("bootstrap", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("bootstrap", "all services closed")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("bootstrap", "shutdown timed out")
		return errors.New("service shutdown timed out")
	}
	return nil
}
