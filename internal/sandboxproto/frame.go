package sandboxproto

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

const (
	framePrefix = "@@HEAL-RESULT v1 "
	frameSuffix = "@@\n"
	frameEnd    = "\n@@HEAL-RESULT-END@@"
)

// Encode writes r as one frame: a header carrying the payload length, the
// JSON envelope, and an end marker.
func Encode(w io.Writer, r domain.SandboxResult) error {
	payload, err := MarshalResult(r)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("\n" + framePrefix)
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteString(frameSuffix)
	buf.Write(payload)
	buf.WriteString(frameEnd + "\n")
	_, err = w.Write(buf.Bytes())
	return err
}

// Decode returns the last intact frame in output. Frames whose length or end
// marker does not check out are skipped.
func Decode(output []byte) (domain.SandboxResult, error) {
	end := len(output)
	for end > 0 {
		i := bytes.LastIndex(output[:end], []byte(framePrefix))
		if i < 0 {
			break
		}
		if r, err := decodeAt(output, i); err == nil {
			return r, nil
		}
		end = i
	}
	return domain.SandboxResult{}, ErrNoResult
}

func decodeAt(output []byte, i int) (domain.SandboxResult, error) {
	rest := output[i+len(framePrefix):]
	j := bytes.Index(rest, []byte(frameSuffix))
	if j < 0 {
		return domain.SandboxResult{}, fmt.Errorf("unterminated frame header")
	}
	n, err := strconv.Atoi(string(rest[:j]))
	if err != nil || n < 0 {
		return domain.SandboxResult{}, fmt.Errorf("bad frame length %q", rest[:j])
	}
	body := rest[j+len(frameSuffix):]
	if len(body) < n+len(frameEnd) || !bytes.HasPrefix(body[n:], []byte(frameEnd)) {
		return domain.SandboxResult{}, fmt.Errorf("truncated frame")
	}
	return UnmarshalResult(body[:n])
}

// Parse extracts the result from combined runner output: the framed result
// when present, otherwise the last top-level JSON object that decodes into a
// valid result. Arbitrary noise before, after, or between is tolerated.
func Parse(output []byte) (domain.SandboxResult, error) {
	if r, err := Decode(output); err == nil {
		return r, nil
	}
	objs := topLevelObjects(output)
	for k := len(objs) - 1; k >= 0; k-- {
		if r, err := UnmarshalResult(objs[k]); err == nil {
			return r, nil
		}
	}
	return domain.SandboxResult{}, ErrNoResult
}

// topLevelObjects returns every balanced {...} span not nested in another.
// Quotes only count inside an object so stray quotes in log text are harmless.
func topLevelObjects(data []byte) [][]byte {
	var out [][]byte
	depth, start := 0, -1
	inString, escaped := false, false

	for i, c := range data {
		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, data[start:i+1])
			}
		}
	}
	return out
}
