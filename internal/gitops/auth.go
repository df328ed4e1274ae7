package gitops

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// Auth pairs an authentication mode with sealed credentials.
// Zero value means anonymous access.
type Auth struct {
	Mode  domain.AuthMode
	Creds *secrets.Credentials
}

// TokenAuth builds HTTPS token authentication
func TokenAuth(c *secrets.Credentials) Auth {
	return Auth{Mode: domain.AuthHTTPS, Creds: c}
}

// KeyAuth builds SSH private-key authentication
func KeyAuth(c *secrets.Credentials) Auth {
	return Auth{Mode: domain.AuthSSH, Creds: c}
}

// withTransportAuth materializes the credentials for exactly one transport
// call. Token plaintext only lives inside the callback; SSH keys are written
// to a scoped key file that is removed before this returns.
func (g *Gateway) withTransportAuth(auth Auth, fn func(transport.AuthMethod) error) error {
	if auth.Creds.Empty() {
		return fn(nil)
	}

	switch auth.Mode {
	case domain.AuthSSH:
		kf, err := secrets.WriteKeyFile(g.opts.KeyDir, auth.Creds)
		if err != nil {
			return err
		}
		defer kf.Close()

		var method transport.AuthMethod
		err = auth.Creds.WithPassphrase(func(p []byte) error {
			pk, err := gitssh.NewPublicKeysFromFile("git", kf.Path(), string(p))
			if err != nil {
				return fmt.Errorf("load ssh key: %w", err)
			}
			cb, err := g.hostKeyCallback()
			if err != nil {
				return err
			}
			pk.HostKeyCallback = cb
			method = pk
			return nil
		})
		if err != nil {
			return err
		}
		return fn(method)

	default:
		return auth.Creds.WithSecret(func(token []byte) error {
			return fn(&githttp.BasicAuth{Username: g.opts.TokenUser, Password: string(token)})
		})
	}
}

func (g *Gateway) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if g.opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if g.opts.KnownHosts != "" {
		return gitssh.NewKnownHostsCallback(g.opts.KnownHosts)
	}
	return gitssh.NewKnownHostsCallback()
}
