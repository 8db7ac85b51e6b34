package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttngu207/stackrun/internal/compose"
)

// ProcessRuntime runs replicas as host processes instead of
// containers. Images and bind mounts are not applicable: the process
// sees the host filesystem directly. Useful for stacks of plain worker
// commands and for exercising the engine in tests.
type ProcessRuntime struct {
	// Dir is the default working directory for replicas that do not
	// declare one.
	Dir string
	// Logger receives runtime-level logs.
	Logger *logrus.Logger
}

// NewProcessRuntime builds a process-backed runtime rooted at dir.
func NewProcessRuntime(dir string, logger *logrus.Logger) *ProcessRuntime {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProcessRuntime{Dir: dir, Logger: logger}
}

// Name identifies the backend.
func (p *ProcessRuntime) Name() string { return "process" }

// BuildImage is a no-op: processes have no images. A declared build is
// tolerated so the same stack file works under both runtimes.
func (p *ProcessRuntime) BuildImage(ctx context.Context, svc *compose.Service, logs LogFunc) error {
	if svc.Build != nil {
		p.Logger.WithField("service", svc.Name).Debug("process runtime ignores build")
	}
	return nil
}

// Start launches the replica's command as a child process. The declared
// environment overrides the inherited host environment.
func (p *ProcessRuntime) Start(ctx context.Context, spec *ReplicaSpec, logs LogFunc) (Replica, error) {
	argv := processArgv(spec)
	if len(argv) == 0 {
		return nil, fmt.Errorf("replica %s: no command to run (process runtime has no image defaults)", spec.Name)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkingDir
	if cmd.Dir == "" {
		cmd.Dir = p.Dir
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start replica %s: %w", spec.Name, err)
	}

	replica := &processReplica{
		cmd:    cmd,
		doneCh: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, "stdout", logs)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, "stderr", logs)
	}()
	go func() {
		// Drain output before Wait so the pipes are fully consumed.
		wg.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
				err = nil
			}
		}
		replica.result = waitResult{code: code, err: err}
		close(replica.doneCh)
	}()
	return replica, nil
}

// Remove is a no-op: an exited process leaves nothing behind.
func (p *ProcessRuntime) Remove(ctx context.Context, handle string) error {
	return nil
}

type waitResult struct {
	code int
	err  error
}

// processReplica is one running child process. result is written once
// by the wait goroutine before doneCh closes.
type processReplica struct {
	cmd    *exec.Cmd
	doneCh chan struct{}
	result waitResult
}

// Handle returns "pid:N".
func (r *processReplica) Handle() string {
	return "pid:" + strconv.Itoa(r.cmd.Process.Pid)
}

// Wait blocks until the process exits or ctx is canceled.
func (r *processReplica) Wait(ctx context.Context) (int, error) {
	select {
	case <-r.doneCh:
		return r.result.code, r.result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop sends SIGTERM to the process group, escalating to SIGKILL after
// the grace period.
func (r *processReplica) Stop(ctx context.Context, grace time.Duration) error {
	pgid := -r.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-r.doneCh:
		return nil
	case <-timer.C:
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return nil
	case <-ctx.Done():
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return ctx.Err()
	}
}

// processArgv renders the entrypoint+command as a host argv.
func processArgv(spec *ReplicaSpec) []string {
	var argv []string
	if !spec.Entrypoint.IsZero() {
		argv = append(argv, commandArgs(spec.Entrypoint)...)
	}
	if !spec.Command.IsZero() {
		// When both are set, the command becomes arguments to the
		// entrypoint, matching container semantics. A shell-form
		// command keeps its own `sh -c` only when there is no
		// entrypoint.
		if len(argv) > 0 && spec.Command.Shell != "" {
			argv = append(argv, spec.Command.Shell)
		} else {
			argv = append(argv, commandArgs(spec.Command)...)
		}
	}
	return argv
}

// mergeEnv overlays declared variables onto the base environment.
func mergeEnv(base []string, overlay map[string]string) []string {
	merged := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, shadowed := overlay[name]; !shadowed {
			merged = append(merged, kv)
		}
	}
	for _, key := range sortedKeys(overlay) {
		merged = append(merged, key+"="+overlay[key])
	}
	return merged
}
