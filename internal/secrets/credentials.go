// Package secrets keeps git credentials sealed in memory, materializes
// private keys as short-lived files, and scrubs secret material from text.
package secrets

import (
	"bytes"
	"errors"

	"github.com/awnumar/memguard"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// ErrNoSecret is returned when credentials carry no secret material
var ErrNoSecret = errors.New("no secret material")

// MinSecretLen is the shortest secret or passphrase Redactor.Scrub replaces.
// Shorter values would match ordinary text.
const MinSecretLen = 4

// Credentials holds a token or private key inside an encrypted enclave.
// The plaintext only exists while a WithSecret callback runs.
type Credentials struct {
	mode       domain.AuthMode
	secret     *memguard.Enclave
	passphrase *memguard.Enclave
}

// NewToken seals an access token for HTTPS authentication
func NewToken(token string) *Credentials {
	return &Credentials{mode: domain.AuthHTTPS, secret: seal([]byte(token))}
}

// NewPrivateKey seals a PEM private key (and optional passphrase) for SSH
func NewPrivateKey(key []byte, passphrase string) *Credentials {
	buf := make([]byte, len(key))
	copy(buf, key)
	return &Credentials{
		mode:       domain.AuthSSH,
		secret:     seal(buf),
		passphrase: seal([]byte(passphrase)),
	}
}

// seal moves b into an enclave; memguard wipes b. Empty input yields nil.
func seal(b []byte) *memguard.Enclave {
	if len(b) == 0 {
		return nil
	}
	return memguard.NewEnclave(b)
}

// Mode reports the authentication scheme
func (c *Credentials) Mode() domain.AuthMode {
	if c == nil {
		return ""
	}
	return c.mode
}

// Empty reports whether there is no secret to use
func (c *Credentials) Empty() bool {
	return c == nil || c.secret == nil
}

// Scrubbable reports whether every secret part is long enough for a
// Redactor to remove it from text
func (c *Credentials) Scrubbable() bool {
	if c.Empty() {
		return true
	}
	ok := true
	check := func(b []byte) error {
		if len(b) > 0 && len(bytes.TrimSpace(b)) < MinSecretLen {
			ok = false
		}
		return nil
	}
	if err := c.WithSecret(check); err != nil {
		return false
	}
	_ = c.WithPassphrase(check)
	return ok
}

// WithSecret opens the enclave, passes the plaintext to fn and wipes it
// afterwards. fn must not retain the slice.
func (c *Credentials) WithSecret(fn func(secret []byte) error) error {
	if c.Empty() {
		return ErrNoSecret
	}
	return open(c.secret, fn)
}

// WithPassphrase is WithSecret for the optional key passphrase.
// fn receives an empty slice when no passphrase was given.
func (c *Credentials) WithPassphrase(fn func(passphrase []byte) error) error {
	if c == nil || c.passphrase == nil {
		return fn(nil)
	}
	return open(c.passphrase, fn)
}

func open(e *memguard.Enclave, fn func([]byte) error) error {
	lb, err := e.Open()
	if err != nil {
		return err
	}
	defer lb.Destroy()
	return fn(lb.Bytes())
}

// Purge wipes all sealed memory; call on shutdown
func Purge() {
	memguard.Purge()
}
