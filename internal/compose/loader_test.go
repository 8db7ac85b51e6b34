package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStack writes a stack file plus any sibling files into a temp
// project directory and returns the stack file path.
func writeStack(t *testing.T, stack string, extra map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stackrun.yaml")
	if err := os.WriteFile(path, []byte(stack), 0644); err != nil {
		t.Fatalf("write stack file: %v", err)
	}
	for name, content := range extra {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestLoadStandardWorker(t *testing.T) {
	stack := `
services:
  standard_worker:
    build: .
    env_file: .env
    volumes:
      - ./pipeline:/main/pipeline
      - ./config:/main/config:ro
    command: run_workflow standard_worker
    scale: 3
`
	path := writeStack(t, stack, map[string]string{
		".env":       "DJ_HOST=db.example.com\nDJ_USER=worker\n",
		"Dockerfile": "FROM scratch\n",
	})

	project, err := Load(path, LoadOptions{ProjectName: "photonics", Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, "photonics", project.Name)
	require.Contains(t, project.Services, "standard_worker")
	svc := project.Services["standard_worker"]

	assert.Equal(t, "standard_worker", svc.Name)
	assert.Equal(t, 3, svc.Replicas())
	assert.Equal(t, "run_workflow standard_worker", svc.Command.Shell)
	assert.Equal(t, RestartNever, svc.Restart)
	assert.Equal(t, Duration(DefaultStopGracePeriod), svc.StopGracePeriod)

	// Build context resolved and image tag derived from project/service.
	require.NotNil(t, svc.Build)
	assert.Equal(t, filepath.Dir(path), svc.Build.Context)
	assert.Equal(t, "Dockerfile", svc.Build.Dockerfile)
	assert.Equal(t, "photonics-standard_worker", svc.Image)

	// Bind mount sources made absolute.
	require.Len(t, svc.Volumes, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "pipeline"), svc.Volumes[0].Source)
	assert.True(t, svc.Volumes[1].ReadOnly)

	// Env file resolution.
	env, err := project.ResolveEnvironment(svc)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", env["DJ_HOST"])
	assert.Equal(t, "worker", env["DJ_USER"])
}

func TestLoadInterpolation(t *testing.T) {
	stack := `
services:
  worker:
    image: worker:${TAG:-latest}
    scale: ${WORKER_SCALE:-2}
    environment:
      GREETING: hello $${USER}
`
	path := writeStack(t, stack, nil)

	project, err := Load(path, LoadOptions{
		Lookup: MapLookup(map[string]string{"WORKER_SCALE": "5"}),
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	svc := project.Services["worker"]
	assert.Equal(t, "worker:latest", svc.Image)
	assert.Equal(t, 5, svc.Replicas())
	assert.Equal(t, "hello ${USER}", svc.Environment["GREETING"])
}

func TestLoadDotEnvLookup(t *testing.T) {
	stack := `
services:
  worker:
    image: worker:${TAG}
`
	path := writeStack(t, stack, map[string]string{".env": "TAG=v7\n"})

	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, "worker:v7", project.Services["worker"].Image)
}

func TestLoadRequiredVariableMissing(t *testing.T) {
	stack := `
services:
  worker:
    image: worker:${TAG:?tag must be set}
`
	path := writeStack(t, stack, nil)

	_, err := Load(path, LoadOptions{Lookup: MapLookup(nil), Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag must be set")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		stack   string
		wantSub string
	}{
		{
			name:    "no services",
			stack:   "name: empty\n",
			wantSub: "declares no services",
		},
		{
			name:    "missing image and build",
			stack:   "services:\n  worker:\n    scale: 2\n",
			wantSub: "needs image or build",
		},
		{
			name:    "bad restart policy",
			stack:   "services:\n  worker:\n    image: w\n    restart: sometimes\n",
			wantSub: "invalid restart policy",
		},
		{
			name:    "negative replicas",
			stack:   "services:\n  worker:\n    image: w\n    deploy:\n      replicas: -1\n",
			wantSub: "cannot be negative",
		},
		{
			name:    "duplicate mount target",
			stack:   "services:\n  worker:\n    image: w\n    volumes:\n      - ./a:/data\n      - ./b:/data\n",
			wantSub: "duplicate volume target",
		},
		{
			name:    "named volume",
			stack:   "services:\n  worker:\n    image: w\n    volumes:\n      - cache:/data\n",
			wantSub: "named volumes are not supported",
		},
		{
			name:    "undefined dependency",
			stack:   "services:\n  worker:\n    image: w\n    depends_on: [db]\n",
			wantSub: "undefined service",
		},
		{
			name:    "dependency cycle",
			stack:   "services:\n  a:\n    image: w\n    depends_on: [b]\n  b:\n    image: w\n    depends_on: [a]\n",
			wantSub: "dependency cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeStack(t, tt.stack, nil)
			_, err := Load(path, LoadOptions{Logger: quietLogger()})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestStartOrder(t *testing.T) {
	stack := `
services:
  worker:
    image: w
    depends_on: [db, cache]
  cache:
    image: c
  db:
    image: d
    depends_on: [cache]
`
	path := writeStack(t, stack, nil)
	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)

	order := project.StartOrder()
	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["cache"], pos["db"])
	assert.Less(t, pos["db"], pos["worker"])
	assert.Len(t, order, 3)
}

func TestProjectNameDefaultsToDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "My Project!")
	require.NoError(t, os.Mkdir(sub, 0755))
	path := filepath.Join(sub, "stackrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  w:\n    image: img\n"), 0644))

	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, "myproject", project.Name)
}

func TestResolveEnvironmentPrecedence(t *testing.T) {
	stack := `
services:
  worker:
    image: w
    env_file:
      - first.env
      - second.env
      - path: missing.env
        required: false
    environment:
      FROM_INLINE: inline
      SHARED: inline-wins
`
	path := writeStack(t, stack, map[string]string{
		"first.env":  "SHARED=first\nONLY_FIRST=1\n",
		"second.env": "SHARED=second\nONLY_SECOND=2\n",
	})
	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)

	env, err := project.ResolveEnvironment(project.Services["worker"])
	require.NoError(t, err)
	assert.Equal(t, "inline-wins", env["SHARED"])
	assert.Equal(t, "1", env["ONLY_FIRST"])
	assert.Equal(t, "2", env["ONLY_SECOND"])
	assert.Equal(t, "inline", env["FROM_INLINE"])
}

func TestLoadMissingRequiredEnvFile(t *testing.T) {
	stack := `
services:
  worker:
    image: w
    env_file: nope.env
`
	path := writeStack(t, stack, nil)
	_, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.env")
}

func TestLoadOptionalEnvFileMayBeMissing(t *testing.T) {
	stack := `
services:
  worker:
    image: w
    env_file:
      - path: nope.env
        required: false
`
	path := writeStack(t, stack, nil)
	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)

	env, err := project.ResolveEnvironment(project.Services["worker"])
	require.NoError(t, err)
	assert.Empty(t, env)
}

func TestResolveEnvironmentReadsLate(t *testing.T) {
	stack := `
services:
  worker:
    image: w
    env_file: late.env
`
	path := writeStack(t, stack, map[string]string{"late.env": "MODE=a\n"})
	project, err := Load(path, LoadOptions{Logger: quietLogger()})
	require.NoError(t, err)

	// Contents are read at replica start, not at load.
	envPath := filepath.Join(filepath.Dir(path), "late.env")
	require.NoError(t, os.WriteFile(envPath, []byte("MODE=b\n"), 0644))
	env, err := project.ResolveEnvironment(project.Services["worker"])
	require.NoError(t, err)
	assert.Equal(t, "b", env["MODE"])

	// A file that vanishes after load still errors on resolve.
	require.NoError(t, os.Remove(envPath))
	_, err = project.ResolveEnvironment(project.Services["worker"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "late.env")
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	_, err := FindConfigFile(dir)
	require.ErrorIs(t, err, ErrNoConfigFile)

	// docker-compose.yml is found as a fallback.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services: {}\n"), 0644))
	path, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docker-compose.yml"), path)

	// stackrun.yaml takes precedence when both exist.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stackrun.yaml"), []byte("services: {}\n"), 0644))
	path, err = FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stackrun.yaml"), path)
}

func TestRenderRoundTrip(t *testing.T) {
	stack := `
services:
  worker:
    image: worker:v1
    command: run_workflow standard_worker
    scale: 2
    volumes:
      - ./data:/data
`
	path := writeStack(t, stack, nil)
	project, err := Load(path, LoadOptions{ProjectName: "demo", Logger: quietLogger()})
	require.NoError(t, err)

	out, err := project.Render()
	require.NoError(t, err)
	rendered := string(out)
	assert.Contains(t, rendered, "name: demo")
	assert.Contains(t, rendered, "worker:v1")
	assert.Contains(t, rendered, "run_workflow standard_worker")
	assert.NotContains(t, rendered, "entrypoint")
}
