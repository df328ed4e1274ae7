package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/notify"
	"github.com/hochfrequenz/heal-orchestrator/internal/oracle"
	"github.com/hochfrequenz/heal-orchestrator/internal/runstore"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// fakeGateway materializes files instead of cloning and records pushes
type fakeGateway struct {
	mu        sync.Mutex
	files     map[string]string
	cloneErr  error
	commitErr error
	// pushes holds one entry per CommitAndPush call, "" for a plain push
	pushes []string
}

func (g *fakeGateway) Clone(_ context.Context, remoteURL string, auth gitops.Auth, destRoot string) (*domain.RepositoryHandle, error) {
	if g.cloneErr != nil {
		return nil, g.cloneErr
	}
	dir := filepath.Join(destRoot, gitops.RepoDirName(remoteURL))
	for name, content := range g.files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return nil, err
		}
	}
	return &domain.RepositoryHandle{LocalPath: dir, RemoteURL: remoteURL, AuthMode: auth.Mode}, nil
}

func (g *fakeGateway) CreateBranch(_, seedA, seedB string) (string, error) {
	return gitops.BranchName(seedA, seedB), nil
}

func (g *fakeGateway) CommitAndPush(_ context.Context, _ string, message *string, _ string, _ gitops.Auth) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if message == nil {
		g.pushes = append(g.pushes, "")
		return nil
	}
	g.pushes = append(g.pushes, *message)
	return g.commitErr
}

func (g *fakeGateway) Pushes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.pushes...)
}

type fakeWorkspaces struct {
	base    string
	mu      sync.Mutex
	created []string
	deleted []string
}

func (w *fakeWorkspaces) Create() (string, error) {
	dir, err := os.MkdirTemp(w.base, "run_")
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	w.created = append(w.created, dir)
	w.mu.Unlock()
	return dir, nil
}

func (w *fakeWorkspaces) Delete(path string) {
	w.mu.Lock()
	w.deleted = append(w.deleted, path)
	w.mu.Unlock()
	_ = os.RemoveAll(path)
}

// scriptedSandbox returns results in order, repeating the last one
type scriptedSandbox struct {
	mu       sync.Mutex
	results  []domain.SandboxResult
	requests []sandbox.Request
}

func (s *scriptedSandbox) Execute(_ context.Context, req sandbox.Request) domain.SandboxResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := min(len(s.requests)-1, len(s.results)-1)
	return s.results[i]
}

type fakeOracle struct {
	mu            sync.Mutex
	classify      func(rawLogs string) (domain.FailureRecord, error)
	fix           func(req oracle.FixRequest) (string, bool, error)
	classifyCalls int
	fixCalls      []oracle.FixRequest
}

func (o *fakeOracle) Classify(_ context.Context, rawLogs string) (domain.FailureRecord, error) {
	o.mu.Lock()
	o.classifyCalls++
	o.mu.Unlock()
	if o.classify == nil {
		return domain.FailureRecord{}, oracle.ErrFixNotFound
	}
	return o.classify(rawLogs)
}

func (o *fakeOracle) ProposeFix(_ context.Context, req oracle.FixRequest) (string, bool, error) {
	o.mu.Lock()
	o.fixCalls = append(o.fixCalls, req)
	o.mu.Unlock()
	if o.fix == nil {
		return "", false, oracle.ErrFixNotFound
	}
	return o.fix(req)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Send(msg notify.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return nil
}

type harness struct {
	svc      *Service
	gw       *fakeGateway
	ws       *fakeWorkspaces
	store    *runstore.Store
	notifier *recordingNotifier
	redactor *secrets.Redactor
}

func newHarness(t *testing.T, gw *fakeGateway, sb sandbox.Executor, or oracle.Oracle, opts Options) *harness {
	t.Helper()
	store, err := runstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		gw:       gw,
		ws:       &fakeWorkspaces{base: t.TempDir()},
		store:    store,
		notifier: &recordingNotifier{},
		redactor: secrets.NewRedactor(false),
	}
	h.svc, err = New(Deps{
		Gateway:    gw,
		Workspaces: h.ws,
		Sandbox:    sb,
		Oracle:     or,
		Store:      store,
		Notifier:   h.notifier,
		Redactor:   h.redactor,
		Logger:     zaptest.NewLogger(t),
	}, opts)
	require.NoError(t, err)
	return h
}

func teamARequest() RunRequest {
	return RunRequest{
		RepoURL:    "https://host/org/repo",
		TeamName:   "Team A",
		LeaderName: "J. Doe",
	}
}
