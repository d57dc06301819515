package shim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// taskService runs one brainfuck program per task, each in its own process
// so that Kill can stop programs which never terminate.
type taskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdowner
}

// shutdowner is the part of shutdown.Service the task service uses
type shutdowner interface {
	Shutdown()
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &taskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&taskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func errTaskNotCreated(id string) error {
	return fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
}

// lookup returns the task with id. Callers hold s.mu.
func (s *taskService) lookup(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, errTaskNotCreated(id)
	}
	return t, nil
}

func (s *taskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// Create resolves the bundle to a program and starts a stopped process for it
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	bundle, err := ReadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	script := filepath.Join(r.Bundle, startStoppedScriptName)
	if err := os.WriteFile(script, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing %s: %w", startStoppedScriptName, err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	t := &task{
		stdin:  r.Stdin,
		stdout: r.Stdout,
		stderr: r.Stderr,
	}
	defer func() {
		if retErr != nil {
			t.closeStdio(ctx)
		}
	}()

	cmd := programCommand(self, script, bundle)
	if err := t.attachStdio(ctx, cmd); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("running program command: %w", err)
	}
	t.pid = cmd.Process.Pid

	done, markDone := context.WithCancel(context.Background())
	t.done = done
	s.tasks[r.ID] = t

	go s.finalize(ctx, r.ID, cmd, markDone)

	if err := writePidFile(r.ID, t.pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	log.G(ctx).WithField("id", r.ID).Debugf("created task running %s", bundle.Program())
	return &taskAPI.CreateTaskResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Start continues the stopped program process
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(t.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("continuing program process %d: %w", t.pid, err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete an exited task
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("program process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)
	log.G(ctx).Debugf("deleted task %s (%s)", r.ID, t)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a task
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_RUNNING
	if t.exited() {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(t.pid),
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// signalFor returns the requested signal, SIGKILL when none was given
func signalFor(r *taskAPI.KillRequest) syscall.Signal {
	if r.Signal == 0 {
		return syscall.SIGKILL
	}
	return syscall.Signal(r.Signal)
}

// Kill signals the program process and waits for it to exit. This is the
// only way to stop a program that loops forever.
func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("kill (service)")

	exited, err := func() (bool, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		t, err := s.lookup(r.ID)
		if err != nil {
			return false, err
		}
		if t.exited() {
			return true, nil
		}

		if t.pid > 0 {
			p, err := os.FindProcess(t.pid)
			if err != nil {
				return false, fmt.Errorf("finding program process %d: %w", t.pid, err)
			}
			sig := signalFor(r)
			log.G(ctx).Debugf("kill id:%s execid:%s pid:%d sig:%s", r.ID, r.ExecID, t.pid, sig)
			// The POSIX standard specifies that a null-signal can be sent to check
			// whether a PID is valid.
			if err := p.Signal(syscall.Signal(0)); err == nil {
				if err := p.Signal(sig); err != nil {
					return false, fmt.Errorf("sending %s to program process: %w", sig, err)
				}
				// a stopped process only handles the signal once continued
				if sig != syscall.SIGKILL && sig != syscall.SIGCONT {
					if err := p.Signal(syscall.SIGCONT); err != nil {
						log.G(ctx).WithError(err).Debugf("failed to continue program process %d", t.pid)
					}
				}
			}
		}
		return false, nil
	}()

	if err != nil {
		log.G(ctx).WithError(err).Errorf("failed to kill task %s", r.ID)
		return nil, err
	}

	if exited {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pids (task)")
}

// CloseIO of a process
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats are not collected for brainfuck programs
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a task to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s was removed: %w", r.ID, errdefs.ErrNotFound)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
