// Package sandboxproto defines how the universal runner hands its single
// result back to the host: a result file plus a length-framed copy at the
// end of stdout, with a tolerant fallback scan for unframed output.
package sandboxproto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// ErrNoResult means no well-formed result could be found
var ErrNoResult = errors.New("no sandbox result found")

// Envelope wraps the payload with a type discriminator.
type Envelope struct {
	Type    string      `json:"type"`
	Version int         `json:"version"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving envelopes whose payload is decoded by type
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	TypeResult = "result"

	Version = 1
)

// MarshalResult wraps r in a result envelope
func MarshalResult(r domain.SandboxResult) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeResult, Version: Version, Payload: normalize(r)})
}

// UnmarshalResult decodes a result envelope, or a bare result object
func UnmarshalResult(data []byte) (domain.SandboxResult, error) {
	var env EnvelopeRaw
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.SandboxResult{}, err
	}
	payload := data
	if env.Type != "" {
		if env.Type != TypeResult {
			return domain.SandboxResult{}, fmt.Errorf("unexpected envelope type %q", env.Type)
		}
		payload = env.Payload
	}

	var r domain.SandboxResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return domain.SandboxResult{}, err
	}
	if !r.Status.Valid() {
		return domain.SandboxResult{}, fmt.Errorf("invalid status %q", r.Status)
	}
	return normalize(r), nil
}

func normalize(r domain.SandboxResult) domain.SandboxResult {
	if r.Errors == nil {
		r.Errors = []domain.FailureRecord{}
	}
	if r.Language == "" {
		r.Language = "unknown"
	}
	return r
}
