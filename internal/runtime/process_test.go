package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ttngu207/stackrun/internal/compose"
)

// lineCollector is a concurrency-safe LogFunc for tests.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) log(stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, stream+": "+line)
}

func (c *lineCollector) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func TestProcessRuntimeRunsCommand(t *testing.T) {
	p := NewProcessRuntime(t.TempDir(), nil)
	ctx := context.Background()
	collector := &lineCollector{}

	replica, err := p.Start(ctx, &ReplicaSpec{
		Name:    "demo-worker-1",
		Command: compose.ShellCommand{Shell: "echo out line; echo err line >&2; exit 3"},
		Env:     map[string]string{"IGNORED": "1"},
	}, collector.log)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(replica.Handle(), "pid:"))

	code, err := replica.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, collector.joined(), "stdout: out line")
	assert.Contains(t, collector.joined(), "stderr: err line")
}

func TestProcessRuntimeEnvOverlay(t *testing.T) {
	t.Setenv("STACKRUN_TEST_BASE", "from-host")
	p := NewProcessRuntime(t.TempDir(), nil)
	collector := &lineCollector{}

	replica, err := p.Start(context.Background(), &ReplicaSpec{
		Name:    "demo-worker-1",
		Command: compose.ShellCommand{Shell: "echo $STACKRUN_TEST_BASE $STACKRUN_TEST_OVERLAY"},
		Env:     map[string]string{"STACKRUN_TEST_OVERLAY": "declared"},
	}, collector.log)
	require.NoError(t, err)

	code, err := replica.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, collector.joined(), "from-host declared")
}

func TestProcessRuntimeStop(t *testing.T) {
	p := NewProcessRuntime(t.TempDir(), nil)
	ctx := context.Background()

	replica, err := p.Start(ctx, &ReplicaSpec{
		Name:    "demo-worker-1",
		Command: compose.ShellCommand{Argv: []string{"sleep", "60"}},
	}, nil)
	require.NoError(t, err)

	stopDone := make(chan error, 1)
	go func() { stopDone <- replica.Stop(ctx, 2*time.Second) }()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	code, err := replica.Wait(waitCtx)
	require.NoError(t, err)
	// SIGTERM on sleep yields a nonzero exit.
	assert.NotEqual(t, 0, code)
	require.NoError(t, <-stopDone)
}

func TestProcessRuntimeNoCommand(t *testing.T) {
	p := NewProcessRuntime(t.TempDir(), nil)
	_, err := p.Start(context.Background(), &ReplicaSpec{Name: "demo-worker-1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}

func TestProcessArgv(t *testing.T) {
	tests := []struct {
		name string
		spec ReplicaSpec
		want []string
	}{
		{
			name: "shell command alone",
			spec: ReplicaSpec{Command: compose.ShellCommand{Shell: "run_workflow standard_worker"}},
			want: []string{"sh", "-c", "run_workflow standard_worker"},
		},
		{
			name: "exec command alone",
			spec: ReplicaSpec{Command: compose.ShellCommand{Argv: []string{"worker", "--once"}}},
			want: []string{"worker", "--once"},
		},
		{
			name: "entrypoint with exec command",
			spec: ReplicaSpec{
				Entrypoint: compose.ShellCommand{Argv: []string{"tini", "--"}},
				Command:    compose.ShellCommand{Argv: []string{"worker"}},
			},
			want: []string{"tini", "--", "worker"},
		},
		{
			name: "entrypoint with shell command",
			spec: ReplicaSpec{
				Entrypoint: compose.ShellCommand{Argv: []string{"launcher"}},
				Command:    compose.ShellCommand{Shell: "run_workflow standard_worker"},
			},
			want: []string{"launcher", "run_workflow standard_worker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, processArgv(&tt.spec))
		})
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin", "SHADOWED=host"}
	merged := mergeEnv(base, map[string]string{"SHADOWED": "declared", "EXTRA": "1"})
	assert.Contains(t, merged, "PATH=/bin")
	assert.Contains(t, merged, "SHADOWED=declared")
	assert.Contains(t, merged, "EXTRA=1")
	assert.NotContains(t, merged, "SHADOWED=host")
}
