package schedule

import (
	"fmt"
	"os"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// Request turns a schedule entry into a run request. Credentials are read
// at firing time so rotated tokens and keys are picked up.
func Request(cfg config.ScheduleConfig) (orchestrator.RunRequest, error) {
	req := orchestrator.RunRequest{
		RepoURL:       cfg.RepoURL,
		TeamName:      cfg.TeamName,
		LeaderName:    cfg.LeaderName,
		MaxIterations: cfg.MaxIterations,
	}

	switch domain.AuthMode(cfg.AuthMode) {
	case domain.AuthSSH:
		if cfg.KeyFile == "" {
			return req, fmt.Errorf("schedule %q: auth_mode ssh needs key_file", cfg.Name)
		}
		key, err := os.ReadFile(config.ExpandPath(cfg.KeyFile))
		if err != nil {
			return req, fmt.Errorf("schedule %q: reading key file: %w", cfg.Name, err)
		}
		passphrase := ""
		if cfg.PassphraseEnv != "" {
			passphrase = os.Getenv(cfg.PassphraseEnv)
		}
		req.Auth = gitops.KeyAuth(secrets.NewPrivateKey(key, passphrase))
		clear(key)
	case domain.AuthHTTPS, "":
		if cfg.TokenEnv == "" {
			return req, nil
		}
		token := os.Getenv(cfg.TokenEnv)
		if token == "" {
			return req, fmt.Errorf("schedule %q: %s is not set", cfg.Name, cfg.TokenEnv)
		}
		req.Auth = gitops.TokenAuth(secrets.NewToken(token))
	default:
		return req, fmt.Errorf("schedule %q: unknown auth_mode %q", cfg.Name, cfg.AuthMode)
	}
	return req, nil
}
