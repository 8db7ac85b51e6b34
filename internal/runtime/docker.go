package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttngu207/stackrun/internal/compose"
)

// DefaultDockerBin is the docker CLI binary used when no override is
// configured.
const DefaultDockerBin = "docker"

// DockerRuntime drives replicas through the docker CLI. Shelling out
// keeps the tool free of a daemon API dependency and works against any
// docker-compatible CLI (podman with a docker shim included).
type DockerRuntime struct {
	// Bin is the docker binary to invoke.
	Bin string
	// Logger receives runtime-level logs.
	Logger *logrus.Logger
}

// NewDockerRuntime builds a docker-backed runtime.
func NewDockerRuntime(bin string, logger *logrus.Logger) *DockerRuntime {
	if bin == "" {
		bin = DefaultDockerBin
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DockerRuntime{Bin: bin, Logger: logger}
}

// Name identifies the backend.
func (d *DockerRuntime) Name() string { return "docker" }

// BuildImage runs `docker build` for the service's build context,
// streaming build output to logs.
func (d *DockerRuntime) BuildImage(ctx context.Context, svc *compose.Service, logs LogFunc) error {
	if svc.Build == nil {
		return nil
	}
	args := []string{"build", "-t", svc.Image, "-f", svc.Build.Dockerfile}
	for _, key := range sortedKeys(svc.Build.Args) {
		args = append(args, "--build-arg", key+"="+svc.Build.Args[key])
	}
	args = append(args, svc.Build.Context)

	d.Logger.WithFields(logrus.Fields{
		"service": svc.Name,
		"image":   svc.Image,
		"context": svc.Build.Context,
	}).Info("building image")

	cmd := exec.CommandContext(ctx, d.Bin, args...)
	if err := streamCommand(cmd, logs); err != nil {
		return fmt.Errorf("build %s: %w", svc.Image, err)
	}
	return nil
}

// Start creates and starts a container for the spec, then follows its
// logs in the background.
func (d *DockerRuntime) Start(ctx context.Context, spec *ReplicaSpec, logs LogFunc) (Replica, error) {
	args := d.createArgs(spec)
	out, err := d.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	containerID := strings.TrimSpace(out)
	if containerID == "" {
		return nil, fmt.Errorf("create container %s: docker returned no ID", spec.Name)
	}

	if _, err := d.run(ctx, "start", containerID); err != nil {
		_, _ = d.run(context.WithoutCancel(ctx), "rm", "-f", containerID)
		return nil, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	replica := &dockerReplica{
		runtime:     d,
		containerID: containerID,
	}
	if logs != nil {
		replica.followLogs(ctx, logs)
	}
	return replica, nil
}

// createArgs translates a ReplicaSpec into `docker create` arguments.
func (d *DockerRuntime) createArgs(spec *ReplicaSpec) []string {
	args := []string{"create", "--name", spec.Name}
	for _, key := range sortedKeys(spec.Labels) {
		args = append(args, "--label", key+"="+spec.Labels[key])
	}
	for _, key := range sortedKeys(spec.Env) {
		args = append(args, "-e", key+"="+spec.Env[key])
	}
	for _, mount := range spec.Volumes {
		args = append(args, "-v", mount.String())
	}
	if spec.WorkingDir != "" {
		args = append(args, "-w", spec.WorkingDir)
	}
	if spec.MemoryLimit > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryLimit, 10))
	}
	if spec.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPULimit, 'f', -1, 64))
	}
	if !spec.Entrypoint.IsZero() {
		args = append(args, "--entrypoint", entrypointArg(spec.Entrypoint))
	}
	args = append(args, spec.Image)
	// --entrypoint only takes the binary; the rest of a list-form
	// entrypoint rides ahead of the command args after the image.
	args = append(args, entrypointExtraArgs(spec.Entrypoint)...)
	args = append(args, commandArgs(spec.Command)...)
	return args
}

// Remove force-removes the container.
func (d *DockerRuntime) Remove(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if _, err := d.run(ctx, "rm", "-f", handle); err != nil {
		return fmt.Errorf("remove container %s: %w", handle, err)
	}
	return nil
}

// run executes a docker subcommand and returns its stdout.
func (d *DockerRuntime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%s", msg)
	}
	return stdout.String(), nil
}

// dockerReplica is one started container.
type dockerReplica struct {
	runtime     *DockerRuntime
	containerID string

	logWG sync.WaitGroup
}

// Handle returns the container ID.
func (r *dockerReplica) Handle() string { return r.containerID }

// followLogs streams container output to the log callback until the
// container exits.
func (r *dockerReplica) followLogs(ctx context.Context, logs LogFunc) {
	cmd := exec.CommandContext(ctx, r.runtime.Bin, "logs", "--follow", r.containerID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.runtime.Logger.WithError(err).Warn("cannot follow container logs")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.runtime.Logger.WithError(err).Warn("cannot follow container logs")
		return
	}
	if err := cmd.Start(); err != nil {
		r.runtime.Logger.WithError(err).Warn("cannot follow container logs")
		return
	}
	r.logWG.Add(2)
	go func() {
		defer r.logWG.Done()
		scanLines(stdout, "stdout", logs)
	}()
	go func() {
		defer r.logWG.Done()
		scanLines(stderr, "stderr", logs)
	}()
	go func() {
		r.logWG.Wait()
		_ = cmd.Wait()
	}()
}

// Wait blocks on `docker wait`, which prints the container's exit code.
func (r *dockerReplica) Wait(ctx context.Context) (int, error) {
	out, err := r.runtime.run(ctx, "wait", r.containerID)
	if err != nil {
		return 0, fmt.Errorf("wait for container %s: %w", r.containerID, err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse exit code %q for container %s: %w", strings.TrimSpace(out), r.containerID, err)
	}
	return code, nil
}

// Stop issues `docker stop` with the grace period in whole seconds.
func (r *dockerReplica) Stop(ctx context.Context, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if _, err := r.runtime.run(ctx, "stop", "-t", strconv.Itoa(seconds), r.containerID); err != nil {
		return fmt.Errorf("stop container %s: %w", r.containerID, err)
	}
	return nil
}

// commandArgs renders a ShellCommand as trailing docker args. The shell
// form defers to the image's shell.
func commandArgs(c compose.ShellCommand) []string {
	if len(c.Argv) > 0 {
		return c.Argv
	}
	if c.Shell != "" {
		return []string{"sh", "-c", c.Shell}
	}
	return nil
}

// entrypointArg renders the binary for --entrypoint, which only takes
// a single value.
func entrypointArg(c compose.ShellCommand) string {
	if len(c.Argv) > 0 {
		return c.Argv[0]
	}
	return c.Shell
}

// entrypointExtraArgs returns the argv entries beyond the binary, to
// be placed after the image and before the command args.
func entrypointExtraArgs(c compose.ShellCommand) []string {
	if len(c.Argv) > 1 {
		return c.Argv[1:]
	}
	return nil
}

// streamCommand runs cmd, feeding both output streams line-wise into
// logs, and returns the command's error.
func streamCommand(cmd *exec.Cmd, logs LogFunc) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
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
	wg.Wait()
	return cmd.Wait()
}

// scanLines feeds each line from r into logs. Lines longer than the
// buffer are emitted in chunks rather than dropped, and reading
// continues past them.
func scanLines(r io.Reader, stream string, logs LogFunc) {
	if logs == nil {
		logs = func(string, string) {}
	}
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, _, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				logs(stream, string(line))
			}
			return
		}
		logs(stream, string(line))
	}
}

// sortedKeys keeps arg order deterministic for config hashing and
// tests.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
