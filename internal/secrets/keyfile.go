package secrets

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// KeyFile is a private key materialized as an owner-only temp file for the
// duration of a single transport call. Close removes it.
type KeyFile struct {
	path string
	size int
	once sync.Once
}

// WriteKeyFile writes the private key held by c into a fresh 0600 file in dir
// (os.TempDir when empty).
func WriteKeyFile(dir string, c *Credentials) (*KeyFile, error) {
	f, err := os.CreateTemp(dir, "heal-key-*")
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	kf := &KeyFile{path: f.Name()}

	if err := f.Chmod(0600); err != nil {
		f.Close()
		kf.Close()
		return nil, fmt.Errorf("chmod key file: %w", err)
	}

	err = c.WithSecret(func(secret []byte) error {
		kf.size = len(secret)
		if _, err := f.Write(secret); err != nil {
			return err
		}
		// ssh rejects keys without a trailing newline
		if !bytes.HasSuffix(secret, []byte("\n")) {
			kf.size++
			_, err := f.Write([]byte("\n"))
			return err
		}
		return nil
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		kf.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return kf, nil
}

// Path returns the file location
func (k *KeyFile) Path() string {
	return k.path
}

// Close overwrites and deletes the file. Safe to call more than once.
func (k *KeyFile) Close() error {
	var err error
	k.once.Do(func() {
		if k.size > 0 {
			_ = os.WriteFile(k.path, make([]byte, k.size), 0600)
		}
		if rerr := os.Remove(k.path); rerr != nil && !os.IsNotExist(rerr) {
			err = rerr
		}
	})
	return err
}
