package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/logging"
	"github.com/hochfrequenz/heal-orchestrator/internal/metrics"
	"github.com/hochfrequenz/heal-orchestrator/internal/notify"
	"github.com/hochfrequenz/heal-orchestrator/internal/oracle"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/heal-orchestrator/internal/prompts"
	"github.com/hochfrequenz/heal-orchestrator/internal/runstore"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
	"github.com/hochfrequenz/heal-orchestrator/internal/workspace"
)

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app bundles the wired components of one heal-orch process
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	redactor *secrets.Redactor
	store    *runstore.Store
	metrics  *metrics.Metrics
	loader   *prompts.Loader
	svc      *orchestrator.Service
}

func newApp(cfg *config.Config) (*app, error) {
	redactor := secrets.NewRedactor(true)
	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}, redactor)
	if err != nil {
		return nil, err
	}

	store, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	gw := gitops.NewGateway(gitops.Options{
		UserName:              cfg.Git.UserName,
		UserEmail:             cfg.Git.UserEmail,
		TokenUser:             cfg.Git.TokenUser,
		KnownHosts:            config.ExpandPath(cfg.Git.KnownHosts),
		InsecureIgnoreHostKey: cfg.Git.InsecureIgnoreHostKey,
	}, redactor, logger)

	executor, err := newExecutor(cfg, gw, redactor, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	completer, err := oracle.NewCompleter(cfg.Oracle)
	if err != nil {
		store.Close()
		return nil, err
	}
	loader := prompts.DefaultLoader(config.ExpandPath(cfg.Prompts.OverrideDir))
	orc := oracle.New(completer, loader, oracle.Options{
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
		Timeout:           cfg.Oracle.Timeout(),
		MaxLogChars:       cfg.Oracle.MaxLogChars,
	}, logger)

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	m := metrics.New()
	svc, err := orchestrator.New(orchestrator.Deps{
		Gateway:    gw,
		Workspaces: workspace.NewManager(config.ExpandPath(cfg.General.WorkspaceDir), logger),
		Sandbox:    executor,
		Oracle:     orc,
		Store:      store,
		Notifier:   notify.NewMultiNotifier(notifiers...),
		Metrics:    m,
		Redactor:   redactor,
		Logger:     logger,
	}, orchestrator.Options{
		MaxIterations: cfg.General.MaxIterations,
		KeepWorkspace: cfg.General.KeepWorkspace,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		redactor: redactor,
		store:    store,
		metrics:  m,
		loader:   loader,
		svc:      svc,
	}, nil
}

func newExecutor(cfg *config.Config, gw *gitops.Gateway, redactor *secrets.Redactor, logger *zap.Logger) (sandbox.Executor, error) {
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	if cfg.Sandbox.Mode == "local" {
		return sandbox.NewLocalExecutor(gw, profiles, cfg.Sandbox.StepTimeout(), "", redactor, logger), nil
	}

	var languages []byte
	if len(cfg.Languages) > 0 {
		if languages, err = cfg.MarshalLanguages(); err != nil {
			return nil, err
		}
	}
	return sandbox.NewDockerExecutor(sandbox.DockerOptions{
		Binary:                cfg.Sandbox.DockerBinary,
		Image:                 cfg.Sandbox.Image,
		Network:               cfg.Sandbox.Network,
		Memory:                cfg.Sandbox.Memory,
		CPUs:                  cfg.Sandbox.CPUs,
		Timeout:               cfg.Sandbox.Timeout(),
		StepTimeout:           cfg.Sandbox.StepTimeout(),
		InsecureIgnoreHostKey: cfg.Git.InsecureIgnoreHostKey,
		Languages:             languages,
	}, redactor, logger), nil
}

// watchPrompts invalidates cached templates when override files change
func (a *app) watchPrompts(ctx context.Context) {
	if !a.cfg.Prompts.Watch {
		return
	}
	w, err := prompts.NewWatcher(a.loader, a.logger)
	if err != nil {
		a.logger.Warn("prompt watcher disabled", zap.Error(err))
		return
	}
	w.Start(ctx)
}

func (a *app) Close() {
	a.store.Close()
	secrets.Purge()
	logging.Sync(a.logger)
}
