package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// maxRawLogs caps the collected output; the tail is kept since failures are
// reported last by most test tools.
const maxRawLogs = 512 * 1024

// exitNotStarted is reported when a command cannot be started at all
const exitNotStarted = 127

// runStep runs argv in dir and copies stdout and stderr into out. It returns
// the exit code; start failures and timeouts map to non-zero codes.
func runStep(ctx context.Context, dir string, argv []string, timeout time.Duration, out io.Writer) int {
	if len(argv) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = stepEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fmt.Fprintf(out, "cannot run %s: %v\n", argv[0], err)
		return exitNotStarted
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		fmt.Fprintf(out, "cannot run %s: %v\n", argv[0], err)
		return exitNotStarted
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(out, "cannot run %s: %v\n", argv[0], err)
		return exitNotStarted
	}

	// grandchildren may keep the pipes open past a timeout
	stopClose := context.AfterFunc(ctx, func() {
		stdout.Close()
		stderr.Close()
	})
	defer stopClose()

	sink := &lockedWriter{w: out}
	var g errgroup.Group
	g.Go(func() error { _, err := io.Copy(sink, stdout); return err })
	g.Go(func() error { _, err := io.Copy(sink, stderr); return err })
	_ = g.Wait()

	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(out, "\ncommand timed out after %s\n", timeout)
		return -1
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
		return -1
	}
	fmt.Fprintf(out, "\n%s: %v\n", argv[0], err)
	return -1
}

// stepEnv is the inherited environment minus runner credentials
func stepEnv() []string {
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if hasPrefix(kv, TokenEnv+"=") || hasPrefix(kv, KeyFileEnv+"=") || hasPrefix(kv, PassphraseEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "CI=true")
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tailBuffer keeps at most max bytes, discarding the oldest output
type tailBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t.truncated {
		b := t.buf
		for len(b) > 0 && !utf8.RuneStart(b[0]) {
			b = b[1:]
		}
		return "[output truncated]\n" + string(b)
	}
	return string(t.buf)
}
