package compose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrNoConfigFile is returned when none of the default config file
// names exist in the working directory.
var ErrNoConfigFile = errors.New("no stack file found")

// DefaultFileNames are tried in order when no -f flag is given.
var DefaultFileNames = []string{
	"stackrun.yaml",
	"stackrun.yml",
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// LoadOptions adjust how a stack file is loaded.
type LoadOptions struct {
	// ProjectName overrides the project name from the file or directory.
	ProjectName string
	// Lookup overrides variable resolution for interpolation. The
	// default is the process environment over the project's .env file.
	Lookup LookupFunc
	// Logger receives warnings about unset interpolation variables.
	// Defaults to the logrus standard logger.
	Logger *logrus.Logger
}

// FindConfigFile locates a stack file in dir using DefaultFileNames.
func FindConfigFile(dir string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s (tried %s)", ErrNoConfigFile, dir, strings.Join(DefaultFileNames, ", "))
}

// file is the top-level YAML shape. Unknown keys (version, networks,
// volumes objects, x- extensions) are deliberately ignored.
type file struct {
	Name     string              `yaml:"name"`
	Services map[string]*Service `yaml:"services"`
}

// Load reads, interpolates, decodes, normalizes and validates a stack
// file.
func Load(path string, opts LoadOptions) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read stack file: %w", err)
	}
	workingDir := filepath.Dir(abs)

	lookup := opts.Lookup
	if lookup == nil {
		lookup = defaultLookup(workingDir)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	missing, err := interpolateNode(&root, lookup)
	if err != nil {
		return nil, fmt.Errorf("interpolate %s: %w", path, err)
	}
	for _, name := range missing {
		logger.Warnf("variable %q is not set, defaulting to empty string", name)
	}

	var f file
	if err := root.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("%s declares no services", path)
	}

	project := &Project{
		Name:       f.Name,
		Services:   f.Services,
		WorkingDir: workingDir,
		ConfigFile: abs,
	}
	if opts.ProjectName != "" {
		project.Name = opts.ProjectName
	}
	if project.Name == "" {
		project.Name = SanitizeProjectName(filepath.Base(workingDir))
	}

	if err := project.Normalize(); err != nil {
		return nil, err
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	return project, nil
}

// defaultLookup resolves variables from the process environment first,
// then from the project's .env file when one exists.
func defaultLookup(workingDir string) LookupFunc {
	osLookup := LookupFunc(os.LookupEnv)
	dotenv, err := ReadEnvFile(filepath.Join(workingDir, ".env"))
	if err != nil {
		return osLookup
	}
	return ChainLookup(osLookup, MapLookup(dotenv))
}

// interpolateNode walks a YAML document and interpolates every scalar
// string value in place. Mapping keys are left alone.
func interpolateNode(node *yaml.Node, lookup LookupFunc) ([]string, error) {
	var missing []string
	var walk func(n *yaml.Node, isKey bool) error
	walk = func(n *yaml.Node, isKey bool) error {
		switch n.Kind {
		case yaml.DocumentNode, yaml.SequenceNode:
			for _, child := range n.Content {
				if err := walk(child, false); err != nil {
					return err
				}
			}
		case yaml.MappingNode:
			for i := 0; i < len(n.Content); i += 2 {
				if err := walk(n.Content[i], true); err != nil {
					return err
				}
				if err := walk(n.Content[i+1], false); err != nil {
					return err
				}
			}
		case yaml.ScalarNode:
			if isKey || !strings.Contains(n.Value, "$") {
				return nil
			}
			val, miss, err := Interpolate(n.Value, lookup)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			missing = append(missing, miss...)
			n.Value = val
			// Let the decoder re-resolve the scalar so substitutions
			// like scale: ${WORKER_COUNT} decode as numbers.
			n.Tag = ""
			n.Style = 0
		}
		return nil
	}
	if err := walk(node, false); err != nil {
		return nil, err
	}
	return missing, nil
}

var projectNameSanitizeRe = regexp.MustCompile(`[^a-z0-9_-]`)

// SanitizeProjectName lowercases a directory name and strips characters
// that are not valid in a project name.
func SanitizeProjectName(name string) string {
	name = strings.ToLower(name)
	name = projectNameSanitizeRe.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "_-")
	if name == "" {
		name = "default"
	}
	return name
}

// Normalize fills derived fields: service names, default image tags,
// absolute bind mount sources, stop grace period and restart defaults.
func (p *Project) Normalize() error {
	for name, svc := range p.Services {
		if svc == nil {
			svc = &Service{}
			p.Services[name] = svc
		}
		svc.Name = name

		if svc.Build != nil {
			if svc.Build.Context == "" {
				svc.Build.Context = "."
			}
			if !filepath.IsAbs(svc.Build.Context) {
				svc.Build.Context = filepath.Join(p.WorkingDir, svc.Build.Context)
			}
			if svc.Build.Dockerfile == "" {
				svc.Build.Dockerfile = "Dockerfile"
			}
			if svc.Image == "" {
				svc.Image = fmt.Sprintf("%s-%s", p.Name, name)
			}
		}

		for i, mount := range svc.Volumes {
			src, err := expandMountSource(mount.Source, p.WorkingDir)
			if err != nil {
				return fmt.Errorf("service %s: %w", name, err)
			}
			svc.Volumes[i].Source = src
		}

		// Required env files must exist at load time, so config and
		// validation catch the problem before anything starts. Contents
		// are still read late, at replica start.
		for _, ef := range svc.EnvFiles {
			if !ef.Required {
				continue
			}
			path := ef.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(p.WorkingDir, path)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("service %s: env file %s: %w", name, ef.Path, err)
			}
		}

		if svc.StopGracePeriod == 0 {
			svc.StopGracePeriod = Duration(DefaultStopGracePeriod)
		}
		if svc.Restart == "" {
			svc.Restart = RestartNever
		}
	}
	return nil
}

// expandMountSource turns a relative bind mount source into an absolute
// path. Sources that do not look like paths would be named volumes,
// which this tool does not manage.
func expandMountSource(src, workingDir string) (string, error) {
	switch {
	case filepath.IsAbs(src):
		return src, nil
	case strings.HasPrefix(src, "~"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("volume %s: %w", src, err)
		}
		return filepath.Join(home, strings.TrimPrefix(src[1:], "/")), nil
	case strings.HasPrefix(src, "."):
		return filepath.Join(workingDir, src), nil
	default:
		return "", fmt.Errorf("volume source %q: named volumes are not supported (prefix with ./ for a bind mount)", src)
	}
}

// Render marshals the normalized project back to YAML, as printed by
// the config command.
func (p *Project) Render() ([]byte, error) {
	out := struct {
		Name     string              `yaml:"name"`
		Services map[string]*Service `yaml:"services"`
	}{Name: p.Name, Services: p.Services}
	return yaml.Marshal(out)
}
