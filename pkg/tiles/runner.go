package tiles

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// tailLines is how many trailing output lines are kept for diagnosis.
const tailLines = 20

// Invocation is one compiler run.
type Invocation struct {
	Binary  string
	Args    []string
	Timeout time.Duration // zero means no limit beyond ctx

	// OnLine, if set, receives every output line as it is produced.
	OnLine func(line string)
}

// Outcome is how a compiler run ended.
type Outcome struct {
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	// Output holds the last lines of combined stdout and stderr.
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success reports a clean exit.
func (o Outcome) Success() bool {
	return o.ExitCode == 0 && o.Signal == "" && !o.TimedOut
}

// Runner executes the tile compiler. Tests substitute a fake.
type Runner interface {
	// Run blocks until the process exits, the invocation times out or ctx is
	// cancelled; in the last two cases the process is killed. An error means
	// the process could not be started.
	Run(ctx context.Context, inv Invocation) (Outcome, error)

	// Version returns the compiler's version string.
	Version(ctx context.Context, binary string) (string, error)
}

// ExecRunner runs the compiler as a child process.
type ExecRunner struct {
	// WaitDelay bounds how long pipes are drained after the process is
	// killed.
	WaitDelay time.Duration
}

// Run starts the process and streams its output.
func (r ExecRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Binary, inv.Args...)
	killGroup(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, err
	}

	tail := newTail(tailLines)
	var g errgroup.Group
	for _, pipe := range []io.Reader{stdout, stderr} {
		g.Go(func() error {
			return scanLines(pipe, func(line string) {
				tail.add(line)
				if inv.OnLine != nil {
					inv.OnLine(line)
				}
			})
		})
	}
	// Pipes must be drained before Wait closes them.
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	out := Outcome{Output: tail.String(), Duration: time.Since(start)}
	if ps := cmd.ProcessState; ps != nil {
		out.ExitCode = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signal = ws.Signal().String()
		}
	}
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		out.TimedOut = true
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) && runCtx.Err() == nil {
		return out, waitErr
	}
	if drainErr != nil && out.Success() {
		return out, drainErr
	}
	return out, nil
}

// Version runs "<binary> --version" and returns the first output line.
func (r ExecRunner) Version(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// maxLine is the longest line delivered whole. Longer lines arrive in
// maxLine chunks.
const maxLine = 1 << 20

// scanLines splits on both \n and \r: the compiler redraws its progress
// line in place with carriage returns. r is read to EOF even when scanning
// fails, so the writer never blocks on a full pipe.
func scanLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLine)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		for i, b := range data {
			if b == '\n' || b == '\r' {
				return i + 1, data[:i], nil
			}
		}
		if len(data) >= maxLine || (atEOF && len(data) > 0) {
			return len(data), data, nil
		}
		return 0, nil, nil
	})
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			fn(line)
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// tail keeps the last n lines written to it. Safe for concurrent use.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

var _ Runner = ExecRunner{}
