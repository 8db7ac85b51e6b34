package compose

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Project is a fully loaded and normalized stack: a named collection of
// services plus the context they were loaded from.
type Project struct {
	Name       string              `yaml:"name"`
	Services   map[string]*Service `yaml:"services"`
	WorkingDir string              `yaml:"-"` // directory of the config file
	ConfigFile string              `yaml:"-"` // path the project was loaded from
}

// ServiceNames returns the service names in sorted order.
func (p *Project) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for name := range p.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service returns the named service or an error mentioning the project's
// known services.
func (p *Project) Service(name string) (*Service, error) {
	svc, ok := p.Services[name]
	if !ok {
		return nil, fmt.Errorf("no such service: %s (defined: %s)", name, strings.Join(p.ServiceNames(), ", "))
	}
	return svc, nil
}

// Service describes one deployable unit: how to build or pull its image,
// what command its replicas run, and how many replicas to keep up.
type Service struct {
	Name            string        `yaml:"-"`
	Image           string        `yaml:"image,omitempty"`
	Build           *BuildSpec    `yaml:"build,omitempty"`
	Command         ShellCommand  `yaml:"command,omitempty"`
	Entrypoint      ShellCommand  `yaml:"entrypoint,omitempty"`
	Environment     Environment   `yaml:"environment,omitempty"`
	EnvFiles        EnvFileList   `yaml:"env_file,omitempty"`
	Volumes         []VolumeMount `yaml:"volumes,omitempty"`
	WorkingDir      string        `yaml:"working_dir,omitempty"`
	Scale           int           `yaml:"scale,omitempty"`
	Deploy          *DeploySpec   `yaml:"deploy,omitempty"`
	Restart         RestartPolicy `yaml:"restart,omitempty"`
	StopGracePeriod Duration      `yaml:"stop_grace_period,omitempty"`
	Labels          Environment   `yaml:"labels,omitempty"`
	DependsOn       DependsOn     `yaml:"depends_on,omitempty"`

	// scaleSet distinguishes an explicit scale: 0 from an absent key.
	scaleSet bool `yaml:"-"`
}

// serviceNameRe constrains service names to characters that are safe in
// container names and file paths.
var serviceNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Replicas returns the effective replica count for the service.
// deploy.replicas wins over scale; the default is one replica.
// Zero is legal and means "defined but not instantiated".
func (s *Service) Replicas() int {
	if s.Deploy != nil && s.Deploy.Replicas != nil {
		return *s.Deploy.Replicas
	}
	if s.Scale > 0 {
		return s.Scale
	}
	if s.Scale == 0 && s.scaleSet {
		return 0
	}
	return 1
}

type serviceRaw Service

// UnmarshalYAML tracks explicit presence of the scale key, then decodes
// the service normally.
func (s *Service) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		Scale *int `yaml:"scale"`
	}
	if err := value.Decode(&probe); err != nil {
		return err
	}
	if err := value.Decode((*serviceRaw)(s)); err != nil {
		return err
	}
	s.scaleSet = probe.Scale != nil
	return nil
}

// BuildSpec describes how to build the service image.
type BuildSpec struct {
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
	Args       map[string]string `yaml:"args"`
}

// UnmarshalYAML accepts both the short form (`build: .`) and the mapping
// form with context/dockerfile/args.
func (b *BuildSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&b.Context)
	}
	type raw BuildSpec
	return value.Decode((*raw)(b))
}

// DeploySpec carries deployment-time settings. Only replicas and resource
// limits are honored; everything else a file may declare is ignored.
type DeploySpec struct {
	Replicas  *int           `yaml:"replicas"`
	Resources *ResourcesSpec `yaml:"resources"`
}

// ResourcesSpec holds the limits subtree of deploy.resources.
type ResourcesSpec struct {
	Limits *ResourceLimits `yaml:"limits"`
}

// ResourceLimits are per-replica runtime limits.
type ResourceLimits struct {
	Memory MemoryBytes `yaml:"memory"`
	CPUs   float64     `yaml:"cpus"`
}

// MemoryBytes is a byte count that unmarshals from human-readable sizes
// such as "512m" or "2g".
type MemoryBytes int64

// UnmarshalYAML parses either a bare integer (bytes) or a go-units size
// string.
func (m *MemoryBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*m = 0
		return nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	*m = MemoryBytes(n)
	return nil
}

// String renders the limit back in human-readable form.
func (m MemoryBytes) String() string {
	if m == 0 {
		return ""
	}
	return units.BytesSize(float64(m))
}

// ShellCommand is a command that may be written either as a single shell
// string or as an argv list.
type ShellCommand struct {
	// Argv is the exec form. Empty when Shell is set.
	Argv []string
	// Shell is the string form, to be run via `sh -c`.
	Shell string
}

// IsZero reports whether no command was declared.
func (c ShellCommand) IsZero() bool {
	return len(c.Argv) == 0 && c.Shell == ""
}

// UnmarshalYAML accepts both the string and list forms.
func (c *ShellCommand) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&c.Shell)
	case yaml.SequenceNode:
		return value.Decode(&c.Argv)
	default:
		return fmt.Errorf("command must be a string or a list (line %d)", value.Line)
	}
}

// MarshalYAML renders the form that was declared.
func (c ShellCommand) MarshalYAML() (interface{}, error) {
	if c.Shell != "" {
		return c.Shell, nil
	}
	if len(c.Argv) > 0 {
		return c.Argv, nil
	}
	return nil, nil
}

// Environment is a set of key/value pairs that unmarshals from either a
// mapping or a list of KEY=VALUE strings. A list entry without '=' takes
// its value from the host environment at load time (resolved by the
// loader, stored here as an empty value).
type Environment map[string]string

// UnmarshalYAML accepts both mapping and list forms.
func (e *Environment) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		m := map[string]*string{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		out := make(Environment, len(m))
		for k, v := range m {
			if v == nil {
				out[k] = ""
				continue
			}
			out[k] = *v
		}
		*e = out
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		out := make(Environment, len(list))
		for _, entry := range list {
			k, v, _ := strings.Cut(entry, "=")
			if k == "" {
				return fmt.Errorf("invalid environment entry %q (line %d)", entry, value.Line)
			}
			out[k] = v
		}
		*e = out
		return nil
	default:
		return fmt.Errorf("environment must be a mapping or a list (line %d)", value.Line)
	}
}

// SortedKeys returns the keys in stable order for rendering and for
// building runtime args deterministically.
func (e Environment) SortedKeys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvFile is one env_file entry. Required defaults to true, matching the
// short string form.
type EnvFile struct {
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"`
}

// EnvFileList unmarshals from a single string, a list of strings, or a
// list of {path, required} mappings.
type EnvFileList []EnvFile

// UnmarshalYAML accepts the three declared forms.
func (l *EnvFileList) UnmarshalYAML(value *yaml.Node) error {
	decodeOne := func(node *yaml.Node) (EnvFile, error) {
		if node.Kind == yaml.ScalarNode {
			var path string
			if err := node.Decode(&path); err != nil {
				return EnvFile{}, err
			}
			return EnvFile{Path: path, Required: true}, nil
		}
		ef := EnvFile{Required: true}
		type raw struct {
			Path     string `yaml:"path"`
			Required *bool  `yaml:"required"`
		}
		var r raw
		if err := node.Decode(&r); err != nil {
			return EnvFile{}, err
		}
		ef.Path = r.Path
		if r.Required != nil {
			ef.Required = *r.Required
		}
		return ef, nil
	}

	switch value.Kind {
	case yaml.ScalarNode:
		ef, err := decodeOne(value)
		if err != nil {
			return err
		}
		*l = EnvFileList{ef}
		return nil
	case yaml.SequenceNode:
		out := make(EnvFileList, 0, len(value.Content))
		for _, node := range value.Content {
			ef, err := decodeOne(node)
			if err != nil {
				return err
			}
			out = append(out, ef)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("env_file must be a string or a list (line %d)", value.Line)
	}
}

// VolumeMount is a bind mount parsed from the short SRC:DST[:ro] syntax.
type VolumeMount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

// UnmarshalYAML accepts the short string syntax and the long mapping
// syntax.
func (v *VolumeMount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		type raw VolumeMount
		return value.Decode((*raw)(v))
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseVolumeMount(s)
	if err != nil {
		return fmt.Errorf("%w (line %d)", err, value.Line)
	}
	*v = parsed
	return nil
}

// ParseVolumeMount parses the short SRC:DST[:ro] bind mount syntax.
func ParseVolumeMount(s string) (VolumeMount, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return VolumeMount{}, fmt.Errorf("invalid volume %q: empty source or target", s)
		}
		return VolumeMount{Source: parts[0], Target: parts[1]}, nil
	case 3:
		if parts[2] != "ro" && parts[2] != "rw" {
			return VolumeMount{}, fmt.Errorf("invalid volume %q: mode must be ro or rw", s)
		}
		return VolumeMount{Source: parts[0], Target: parts[1], ReadOnly: parts[2] == "ro"}, nil
	default:
		return VolumeMount{}, fmt.Errorf("invalid volume %q: want SRC:DST[:ro]", s)
	}
}

// MarshalYAML renders the short syntax.
func (v VolumeMount) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// String renders the mount back in short syntax.
func (v VolumeMount) String() string {
	s := v.Source + ":" + v.Target
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// RestartPolicy decides what happens when a replica exits.
type RestartPolicy string

const (
	RestartNever         RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// ParseRestartPolicy parses a policy string, including the
// on-failure:MAX form. It returns the base policy and the retry cap
// (0 = unlimited).
func ParseRestartPolicy(s string) (RestartPolicy, int, error) {
	if s == "" {
		return RestartNever, 0, nil
	}
	base, countStr, hasCount := strings.Cut(s, ":")
	policy := RestartPolicy(base)
	switch policy {
	case RestartNever, RestartAlways, RestartUnlessStopped:
		if hasCount {
			return "", 0, fmt.Errorf("restart policy %q does not take a retry count", base)
		}
		return policy, 0, nil
	case RestartOnFailure:
		if !hasCount {
			return policy, 0, nil
		}
		n, err := strconv.Atoi(countStr)
		if err != nil || n < 0 {
			return "", 0, fmt.Errorf("invalid retry count in restart policy %q", s)
		}
		return policy, n, nil
	default:
		return "", 0, fmt.Errorf("invalid restart policy %q", s)
	}
}

// MaxRetries returns the on-failure retry cap (0 = unlimited). Parsing
// errors are reported by Validate, not here.
func (r RestartPolicy) MaxRetries() int {
	_, n, err := ParseRestartPolicy(string(r))
	if err != nil {
		return 0
	}
	return n
}

// Base strips an on-failure:MAX suffix down to the base policy.
func (r RestartPolicy) Base() RestartPolicy {
	base, _, err := ParseRestartPolicy(string(r))
	if err != nil {
		return RestartNever
	}
	return base
}

// Duration is a time.Duration that unmarshals from strings like "10s"
// or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses the duration string form; a bare integer is
// taken as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// DependsOn unmarshals from either a list of service names or the long
// mapping form (whose conditions are ignored; only ordering is honored).
type DependsOn []string

// UnmarshalYAML accepts the list and mapping forms.
func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*d = list
		return nil
	case yaml.MappingNode:
		m := map[string]yaml.Node{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		out := make([]string, 0, len(m))
		for name := range m {
			out = append(out, name)
		}
		sort.Strings(out)
		*d = out
		return nil
	default:
		return fmt.Errorf("depends_on must be a list or a mapping (line %d)", value.Line)
	}
}
