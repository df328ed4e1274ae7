package runner

import (
	"fmt"
	"os"

	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// Environment variables through which the host hands credentials to the
// runner container. Values never appear on the command line.
const (
	TokenEnv      = "HEAL_GIT_TOKEN"
	KeyFileEnv    = "HEAL_GIT_KEY_FILE"
	PassphraseEnv = "HEAL_GIT_KEY_PASSPHRASE"
)

// AuthFromEnv seals the credentials found in the environment and unsets the
// variables. A key file takes precedence over a token; neither means
// anonymous access.
func AuthFromEnv() (gitops.Auth, error) {
	defer func() {
		os.Unsetenv(TokenEnv)
		os.Unsetenv(KeyFileEnv)
		os.Unsetenv(PassphraseEnv)
	}()

	if path := os.Getenv(KeyFileEnv); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return gitops.Auth{}, fmt.Errorf("read key file: %w", err)
		}
		return gitops.KeyAuth(secrets.NewPrivateKey(key, os.Getenv(PassphraseEnv))), nil
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		return gitops.TokenAuth(secrets.NewToken(tok)), nil
	}
	return gitops.Auth{}, nil
}
