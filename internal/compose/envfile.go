package compose

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"
)

// ReadEnvFile parses a dotenv-format file into a map. The path must
// already be absolute or relative to the caller's working directory.
func ReadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out, nil
}

// ResolveEnvironment computes the effective environment for one replica
// of svc: env_file entries in declaration order (later files win),
// overridden by the service's inline environment. Paths are resolved
// against the project's working directory. A missing required env_file
// is an error; optional entries are skipped.
func (p *Project) ResolveEnvironment(svc *Service) (map[string]string, error) {
	merged := map[string]string{}
	for _, ef := range svc.EnvFiles {
		path := ef.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.WorkingDir, path)
		}
		env, err := ReadEnvFile(path)
		if err != nil {
			if os.IsNotExist(err) && !ef.Required {
				continue
			}
			return nil, fmt.Errorf("service %s: env file %s: %w", svc.Name, ef.Path, err)
		}
		for k, v := range env {
			merged[k] = v
		}
	}
	for k, v := range svc.Environment {
		merged[k] = v
	}
	return merged, nil
}
