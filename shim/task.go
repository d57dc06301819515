package shim

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/treebf/runner"
)

// The program process starts stopped and is continued by Start.
const startStoppedScript = `
#!/bin/sh
kill -STOP $$
exec "$@"
`

const startStoppedScriptName = "start-stopped.sh"

// How long Wait keeps copying stdio after the program has exited
const stdioWaitDelay = 100 * time.Millisecond

// task is one program process
type task struct {
	pid int

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string

	closers []io.Closer
}

func (t *task) String() string {
	if t.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

// programCommand builds the command that runs the bundle's program through
// the start-stopped script.
func programCommand(self string, script string, b *Bundle) *exec.Cmd {
	args := append([]string{script, self, "brainfuck"}, b.Args()...)
	cmd := exec.Command("/bin/sh", args...)
	cmd.WaitDelay = stdioWaitDelay
	return cmd
}

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// attachStdio connects the task fifos to cmd. A missing stdin leaves the
// program with empty input; a missing stderr shares stdout.
func (t *task) attachStdio(ctx context.Context, cmd *exec.Cmd) error {
	if t.stdin != "" {
		fr, err := openFifo(ctx, t.stdin, syscall.O_RDONLY)
		if err != nil {
			return err
		}
		t.closers = append(t.closers, fr)
		cmd.Stdin = fr
	}

	if t.stdout != "" {
		fw, err := openFifo(ctx, t.stdout, syscall.O_WRONLY)
		if err != nil {
			return err
		}
		t.closers = append(t.closers, fw)
		cmd.Stdout = fw
	}

	stderr := t.stderr
	if stderr == "" {
		stderr = t.stdout
	}
	if stderr != "" {
		fe, err := openFifo(ctx, stderr, syscall.O_WRONLY)
		if err != nil {
			return err
		}
		t.closers = append(t.closers, fe)
		cmd.Stderr = fe
	}
	return nil
}

func (t *task) closeStdio(ctx context.Context) {
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			log.G(ctx).WithError(err).Warn("failed to close task fifo")
		}
	}
	t.closers = nil
}

// exitStatus of a finished command. Programs that fail report the
// runner exit codes, programs killed by a signal report 128+signal.
func exitStatus(ctx context.Context, cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		log.G(ctx).Warn("program process wait returned without setting process state")
		return 255
	}
	switch ws := cmd.ProcessState.Sys().(syscall.WaitStatus); {
	case cmd.ProcessState.Exited():
		return cmd.ProcessState.ExitCode()
	case ws.Signaled():
		return exitCodeSignal + int(ws.Signal())
	}
	return 255
}

// describeExit is logged by the finalizer.
func describeExit(status int) string {
	switch status {
	case runner.ExitOK:
		return "program finished"
	case runner.ExitParse:
		return "program failed to parse"
	case runner.ExitRuntime:
		return "program failed at runtime"
	default:
		if status > exitCodeSignal {
			sig := syscall.Signal(status - exitCodeSignal)
			return fmt.Sprintf("program terminated by signal %d (%s)", int(sig), sig)
		}
		return "program failed"
	}
}

// finalize waits for the program and records its exit. The shim shuts down
// once every task has exited.
func (s *taskService) finalize(ctx context.Context, id string, cmd *exec.Cmd, markDone func()) {
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for program process %d", pid)
		}
	}
	status := exitStatus(ctx, cmd)
	log.G(ctx).WithField("id", id).WithField("status", status).Debugf("%s (pid %d)", describeExit(status), pid)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of task %s: task was removed", id)
		markDone()
		return
	}

	t.exitStatus = status
	t.exitTime = time.Now()
	t.closeStdio(ctx)
	markDone()

	for _, other := range s.tasks {
		if !other.exited() {
			return
		}
	}
	log.G(ctx).Debug("all tasks exited. shutting down the shim")
	s.shutdown.Shutdown()
}
