package sandboxproto

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// WriteResultFile stores r at path atomically (temp file + rename)
func WriteResultFile(path string, r domain.SandboxResult) error {
	data, err := MarshalResult(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*")
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write result file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadResultFile loads a result written by WriteResultFile
func ReadResultFile(path string) (domain.SandboxResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SandboxResult{}, err
	}
	r, err := UnmarshalResult(data)
	if err != nil {
		return domain.SandboxResult{}, fmt.Errorf("%w: %v", ErrNoResult, err)
	}
	return r, nil
}
