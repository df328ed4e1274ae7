package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/heal-orchestrator/internal/runstore"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

const maxBodyBytes = 1 << 20

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	RepoURL       string `json:"repo_url"`
	TeamName      string `json:"team_name"`
	LeaderName    string `json:"leader_name"`
	AuthMode      string `json:"auth_mode"`
	Token         string `json:"token"`
	PrivateKey    string `json:"private_key"`
	Passphrase    string `json:"passphrase"`
	MaxIterations int    `json:"max_iterations"`
}

// StartRunResponse is returned with 202 Accepted
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// toRunRequest seals the secrets of b and clears them from the body
func (b *StartRunRequest) toRunRequest() (orchestrator.RunRequest, error) {
	req := orchestrator.RunRequest{
		RepoURL:       b.RepoURL,
		TeamName:      b.TeamName,
		LeaderName:    b.LeaderName,
		MaxIterations: b.MaxIterations,
	}
	defer func() {
		b.Token, b.PrivateKey, b.Passphrase = "", "", ""
	}()

	switch domain.AuthMode(b.AuthMode) {
	case "", domain.AuthHTTPS:
		if b.Token != "" {
			req.Auth = gitops.TokenAuth(secrets.NewToken(b.Token))
		}
	case domain.AuthSSH:
		req.Auth = gitops.Auth{Mode: domain.AuthSSH}
		if b.PrivateKey != "" {
			req.Auth = gitops.KeyAuth(secrets.NewPrivateKey([]byte(b.PrivateKey), b.Passphrase))
		}
	default:
		return req, errors.New("auth_mode must be https or ssh")
	}
	return req, nil
}

func (s *Server) startRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body StartRunRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req, err := body.toRunRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id, err := s.svc.StartRun(r.Context(), req)
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, orchestrator.ErrAlreadyRunning.Error())
		case errors.Is(err, orchestrator.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orchestrator.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case err != nil:
			s.logger.Error("starting run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start run")
		default:
			writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: id})
		}
	}
}

// currentStatus is the latest session, or an IDLE placeholder before the
// first run
func (s *Server) currentStatus() domain.Session {
	if sess, ok := s.svc.Status(); ok {
		return sess
	}
	return domain.Session{
		Status:       domain.SessionIdle,
		Logs:         []string{},
		FixesApplied: []domain.FixRecord{},
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.currentStatus())
	}
}

// getRunHandler serves live sessions from memory and older runs from the
// history store
func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if sess, ok := s.svc.Session(id); ok {
			writeJSON(w, http.StatusOK, sess)
			return
		}
		if s.history == nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		res, err := s.history.GetRun(r.Context(), id)
		switch {
		case errors.Is(err, runstore.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case err != nil:
			s.logger.Error("loading run failed", zap.String("run_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load run")
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeJSON(w, http.StatusOK, []domain.RunResult{})
			return
		}
		q := r.URL.Query()
		opts := runstore.ListOptions{
			RepoURL: q.Get("repo_url"),
			Status:  domain.Outcome(q.Get("status")),
			Limit:   50,
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			opts.Limit = n
		}
		runs, err := s.history.ListRuns(r.Context(), opts)
		if err != nil {
			s.logger.Error("listing runs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not list runs")
			return
		}
		if runs == nil {
			runs = []domain.RunResult{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}
