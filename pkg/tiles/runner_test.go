package tiles

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shell(script string) Invocation {
	return Invocation{Binary: "sh", Args: []string{"-c", script}}
}

func TestExecRunnerSuccess(t *testing.T) {
	requireShell(t)

	var mu sync.Mutex
	var lines []string
	inv := shell(`printf 'one\rtwo\nthree\n'; echo oops >&2`)
	inv.OnLine = func(l string) {
		mu.Lock()
		lines = append(lines, l)
		mu.Unlock()
	}

	out, err := ExecRunner{}.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.ElementsMatch(t, []string{"one", "two", "three", "oops"}, lines)
	assert.Contains(t, out.Output, "three")
	assert.Positive(t, out.Duration)
}

func TestExecRunnerExitCode(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), shell(`echo "error: broken" >&2; exit 3`))
	require.NoError(t, err)
	assert.False(t, out.Success())
	assert.Equal(t, 3, out.ExitCode)
	assert.Empty(t, out.Signal)
	assert.Equal(t, "error: broken", Diagnose(out))
}

func TestExecRunnerKilled(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), shell(`kill -9 $$`))
	require.NoError(t, err)
	assert.Equal(t, "killed", out.Signal)
	assert.False(t, out.TimedOut)
	assert.True(t, IsResourceExhausted(out))
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)

	inv := shell(`sleep 10`)
	inv.Timeout = 100 * time.Millisecond
	out, err := ExecRunner{WaitDelay: time.Second}.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.False(t, out.Success())
	assert.False(t, IsResourceExhausted(out))
	assert.Less(t, out.Duration, 5*time.Second)
}

func TestExecRunnerCancelled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, _ := ExecRunner{WaitDelay: time.Second}.Run(ctx, shell(`sleep 10`))
	assert.False(t, out.TimedOut, "caller cancellation is not a timeout")
	assert.False(t, out.Success())
}

func TestExecRunnerTail(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), shell(`i=1; while [ $i -le 30 ]; do echo $i; i=$((i+1)); done`))
	require.NoError(t, err)
	lines := strings.Split(out.Output, "\n")
	assert.Len(t, lines, tailLines)
	assert.Equal(t, "11", lines[0])
	assert.Equal(t, "30", lines[len(lines)-1])
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Invocation{Binary: "tilecraft-no-such-binary"})
	assert.Error(t, err)

	_, err = ExecRunner{}.Version(context.Background(), "tilecraft-no-such-binary")
	assert.Error(t, err)
}

func TestExecRunnerVersion(t *testing.T) {
	requireShell(t)

	bin := filepath.Join(t.TempDir(), "tippecanoe")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'tippecanoe v2.53.0'\necho extra\n"), 0o755))

	v, err := ExecRunner{}.Version(context.Background(), bin)
	require.NoError(t, err)
	assert.Equal(t, "tippecanoe v2.53.0", v)
}

func TestScanLinesSplitsCarriageReturns(t *testing.T) {
	var lines []string
	err := scanLines(strings.NewReader("10%\r20%\r\ndone\n\n"), func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, []string{"10%", "20%", "done"}, lines)
}

func TestScanLinesOverlongLine(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 3*maxLine+10)
	r := bytes.NewReader(append(long, "\ndone\n"...))

	var lines []string
	err := scanLines(r, func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Equal(t, "done", lines[len(lines)-1])
	total := 0
	for _, l := range lines[:len(lines)-1] {
		assert.LessOrEqual(t, len(l), maxLine)
		total += len(l)
	}
	assert.Equal(t, len(long), total)
	assert.Zero(t, r.Len(), "input fully consumed")
}

func TestExecRunnerOverlongOutput(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}

	var last string
	inv := shell(`head -c 3000000 /dev/zero | tr '\0' x; echo; echo finished`)
	inv.Timeout = 30 * time.Second
	inv.OnLine = func(l string) { last = l }

	out, err := ExecRunner{}.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.False(t, out.TimedOut)
	assert.Equal(t, "finished", last)
}
