package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/heal-orchestrator/internal/runstore"
	"github.com/hochfrequenz/heal-orchestrator/internal/schedule"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
	"github.com/hochfrequenz/heal-orchestrator/web/api"
)

const shutdownGrace = 2 * time.Minute

var (
	servePort int

	runRepo       string
	runTeam       string
	runLeader     string
	runMaxIter    int
	runTokenEnv   string
	runKeyFile    string
	runPassEnv    string
	runJSONOutput bool

	statusServer string

	historyLimit  int
	historyRepo   string
	historyStatus string
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, scheduler and run worker",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Heal a repository in the foreground",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runRepo, "repo", "", "repository URL")
	runCmd.Flags().StringVar(&runTeam, "team", "", "team name (first branch seed)")
	runCmd.Flags().StringVar(&runLeader, "leader", "", "leader name (second branch seed)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "iteration budget (config default when 0)")
	runCmd.Flags().StringVar(&runTokenEnv, "token-env", "HEAL_TOKEN", "environment variable holding an HTTPS token")
	runCmd.Flags().StringVar(&runKeyFile, "key-file", "", "SSH private key file; selects ssh auth")
	runCmd.Flags().StringVar(&runPassEnv, "passphrase-env", "", "environment variable holding the key passphrase")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "print the result as JSON")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("team")
	_ = runCmd.MarkFlagRequired("leader")
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session of a running server",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&statusServer, "server", "", "server base URL (default from config)")
	rootCmd.AddCommand(statusCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyCmd.Flags().StringVar(&historyRepo, "repo", "", "filter by repository URL")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (PASSED, FAILED, ERROR)")
	rootCmd.AddCommand(historyCmd)

	// branch command
	branchCmd := &cobra.Command{
		Use:   "branch TEAM LEADER",
		Short: "Print the fix branch name for a team and leader",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitops.BranchName(args[0], args[1]))
		},
	}
	rootCmd.AddCommand(branchCmd)

	// detect command
	detectCmd := &cobra.Command{
		Use:   "detect [DIR]",
		Short: "Detect the language of a checkout and show its commands",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDetect,
	}
	rootCmd.AddCommand(detectCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(api.Options{
		Addr:    cfg.Server.Addr(),
		Service: a.svc,
		History: a.store,
		Metrics: a.metrics.Handler(),
		Logger:  a.logger,
	})
	unsubscribe := a.svc.Subscribe(server.Broadcast)
	defer unsubscribe()

	sched, err := schedule.NewScheduler(cfg.Schedules, a.svc, a.logger)
	if err != nil {
		return err
	}
	a.watchPrompts(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		httpErr := server.Shutdown(shutdownCtx)
		runErr := a.svc.Shutdown(shutdownCtx)
		return errors.Join(httpErr, runErr)
	})

	fmt.Printf("heal-orch listening on http://%s\n", cfg.Server.Addr())
	return g.Wait()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	auth, err := cliAuth()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unsubscribe := a.svc.Subscribe(progressPrinter())
	res, err := a.svc.RunSync(ctx, orchestrator.RunRequest{
		RepoURL:       runRepo,
		TeamName:      runTeam,
		LeaderName:    runLeader,
		MaxIterations: runMaxIter,
		Auth:          auth,
	})
	unsubscribe()
	if err != nil {
		return err
	}

	if runJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(renderResult(res))
	if res.Status != domain.OutcomePassed {
		return fmt.Errorf("run finished with status %s", res.Status)
	}
	return nil
}

// cliAuth reads credentials named by the run flags
func cliAuth() (gitops.Auth, error) {
	if runKeyFile != "" {
		key, err := os.ReadFile(runKeyFile)
		if err != nil {
			return gitops.Auth{}, fmt.Errorf("reading key file: %w", err)
		}
		var passphrase string
		if runPassEnv != "" {
			passphrase = os.Getenv(runPassEnv)
		}
		auth := gitops.KeyAuth(secrets.NewPrivateKey(key, passphrase))
		clear(key)
		return auth, nil
	}
	if token := os.Getenv(runTokenEnv); token != "" {
		return gitops.TokenAuth(secrets.NewToken(token)), nil
	}
	return gitops.Auth{}, nil
}

// progressPrinter echoes new session log lines as they arrive
func progressPrinter() func(domain.Session) {
	printed := 0
	return func(s domain.Session) {
		for ; printed < len(s.Logs); printed++ {
			fmt.Println(dimStyle.Render(s.Logs[printed]))
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := statusServer
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = "http://" + cfg.Server.Addr()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var sess domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	fmt.Println(renderSession(sess, time.Now()))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), runstore.ListOptions{
		RepoURL: historyRepo,
		Status:  domain.Outcome(historyStatus),
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	fmt.Println(renderHistory(runs, time.Now()))
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	profiles := language.Default()
	if cfg, err := loadConfig(); err == nil {
		if p, err := cfg.Profiles(); err == nil {
			profiles = p
		}
	}

	lang := language.Detect(dir)
	fmt.Println(renderProfile(profiles.Profile(lang), dir))
	return nil
}
