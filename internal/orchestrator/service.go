// Package orchestrator drives a healing run through a bounded
// clone, test, analyze, fix, commit loop and keeps the session registry
// that status pollers read from.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/metrics"
	"github.com/hochfrequenz/heal-orchestrator/internal/notify"
	"github.com/hochfrequenz/heal-orchestrator/internal/oracle"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

const (
	// DefaultMaxIterations bounds the loop when neither the request nor the
	// options set a budget
	DefaultMaxIterations = 5

	persistTimeout = 30 * time.Second
)

var (
	// ErrInvalidRequest wraps every validation failure of a RunRequest
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrShuttingDown rejects runs once Shutdown has been called
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// Gateway is the subset of the source control gateway the loop needs
type Gateway interface {
	Clone(ctx context.Context, remoteURL string, auth gitops.Auth, destRoot string) (*domain.RepositoryHandle, error)
	CreateBranch(repoPath, seedA, seedB string) (string, error)
	CommitAndPush(ctx context.Context, repoPath string, message *string, branch string, auth gitops.Auth) error
}

// Workspaces allocates per-run directories and removes paths inside them
type Workspaces interface {
	Create() (string, error)
	Delete(path string)
}

// RunStore persists finished runs
type RunStore interface {
	SaveRun(ctx context.Context, r domain.RunResult) error
}

// Deps are the collaborators of a Service. Store, Notifier, Metrics and
// Redactor are optional.
type Deps struct {
	Gateway    Gateway
	Workspaces Workspaces
	Sandbox    sandbox.Executor
	Oracle     oracle.Oracle
	Store      RunStore
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Redactor   *secrets.Redactor
	Logger     *zap.Logger
}

// Options tune a Service
type Options struct {
	MaxIterations int
	KeepWorkspace bool
}

// RunRequest describes one healing run
type RunRequest struct {
	RepoURL       string      `json:"repo_url" validate:"required,repourl"`
	TeamName      string      `json:"team_name" validate:"required,max=100"`
	LeaderName    string      `json:"leader_name" validate:"required,max=100"`
	MaxIterations int         `json:"max_iterations" validate:"gte=0,lte=50"`
	Auth          gitops.Auth `json:"-"`
}

// Service owns the session registry and runs the healing loop
type Service struct {
	deps     Deps
	opts     Options
	logger   *zap.Logger
	redactor *secrets.Redactor
	registry *Registry
	validate *validator.Validate
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Service
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case deps.Workspaces == nil:
		return nil, errors.New("orchestrator: workspaces are required")
	case deps.Sandbox == nil:
		return nil, errors.New("orchestrator: sandbox executor is required")
	case deps.Oracle == nil:
		return nil, errors.New("orchestrator: oracle is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	if deps.Redactor == nil {
		deps.Redactor = secrets.NewRedactor(false)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:     deps,
		opts:     opts,
		logger:   logger.Named("orchestrator"),
		redactor: deps.Redactor,
		registry: NewRegistry(),
		validate: newValidator(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// StartRun validates req, claims the single run slot and starts the loop in
// the background. It returns as soon as the session is registered.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (string, error) {
	if err := s.Validate(req); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	r, err := s.begin(req)
	if err != nil {
		s.wg.Done()
		return "", err
	}

	// the run outlives the request that started it
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, r)
	}()
	return r.id, nil
}

// RunSync runs a healing loop in the foreground and returns its result
func (s *Service) RunSync(ctx context.Context, req RunRequest) (domain.RunResult, error) {
	if err := s.Validate(req); err != nil {
		return domain.RunResult{}, err
	}
	r, err := s.begin(req)
	if err != nil {
		return domain.RunResult{}, err
	}
	return s.execute(ctx, r), nil
}

// Status returns the latest session. The bool is false when no run was
// ever started.
func (s *Service) Status() (domain.Session, bool) {
	return s.registry.Latest()
}

// Session returns the session with the given id
func (s *Service) Session(id string) (domain.Session, bool) {
	return s.registry.Get(id)
}

// Sessions returns every session of this process, oldest first
func (s *Service) Sessions() []domain.Session {
	return s.registry.All()
}

// Subscribe registers a listener for session snapshots
func (s *Service) Subscribe(l Listener) func() {
	return s.registry.Subscribe(l)
}

// Running reports whether a run currently holds the slot
func (s *Service) Running() bool {
	return s.registry.RunningCount() > 0
}

// Shutdown stops accepting runs and waits for the active one. When ctx
// expires first the run is cancelled, finalized as ERROR, and ctx's error is
// returned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Validate checks req without starting anything
func (s *Service) Validate(req RunRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	switch req.Auth.Mode {
	case "", domain.AuthHTTPS:
	case domain.AuthSSH:
		if req.Auth.Creds.Empty() {
			return fmt.Errorf("%w: auth_mode ssh requires a private key", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown auth_mode %q", ErrInvalidRequest, req.Auth.Mode)
	}
	if !req.Auth.Creds.Scrubbable() {
		return fmt.Errorf("%w: credentials must be at least %d characters", ErrInvalidRequest, secrets.MinSecretLen)
	}
	return nil
}

// begin claims the single-flight slot for a new session
func (s *Service) begin(req RunRequest) (*run, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = s.opts.MaxIterations
	}

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		maxIter: maxIter,
		started: s.now(),
		pending: -1,
	}
	s.redactor.Register(req.Auth.Creds)

	sess := &domain.Session{
		ID:            r.id,
		MaxIterations: maxIter,
		Logs:          []string{},
		FixesApplied:  []domain.FixRecord{},
		StartTime:     r.started,
		RepoURL:       DisplayURL(req.RepoURL),
		TeamName:      req.TeamName,
		LeaderName:    req.LeaderName,
	}
	if err := s.registry.begin(sess); err != nil {
		s.redactor.Forget(req.Auth.Creds)
		return nil, err
	}
	s.deps.Metrics.RunStarted()
	s.logger.Info("run accepted",
		zap.String("run_id", r.id),
		zap.String("repo", sess.RepoURL),
		zap.Int("max_iterations", maxIter),
	)
	return r, nil
}

// DisplayURL strips userinfo from a remote URL so it can be shown and
// logged
func DisplayURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil || u.Scheme == "" {
		return raw
	}
	u.User = nil
	return u.String()
}

var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^\s]+$`)

func validRepoURL(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if scpLike.MatchString(s) {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	case "file":
		return u.Path != ""
	}
	return false
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("repourl", validRepoURL)
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "repourl":
		return fe.Field() + " must be an http(s), ssh, git or file URL"
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
